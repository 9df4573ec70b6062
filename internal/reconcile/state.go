package reconcile

import (
	"time"

	"github.com/driftlabs/gridbot/internal/domain"
)

// SideState remembers the last applied grid for one side. AnchorPrice is
// the reference the grid was built on; a zero anchor means the side has
// never been quoted.
type SideState struct {
	AnchorPrice float64
	LastUpdate  time.Time
	Prices      []float64
}

// GridState is the reconciler's memory between cycles. It is owned by the
// orchestrator and threaded through each Reconcile call, never shared.
type GridState struct {
	Buy          SideState
	Sell         SideState
	LastBalances domain.Balances
	HasBalances  bool

	// PendingCancels holds ids whose cancel failed last cycle; they get one
	// more attempt before being dropped (the order may already be gone).
	PendingCancels []string
}

func (s *GridState) side(side domain.OrderSide) *SideState {
	if side == domain.OrderSideBuy {
		return &s.Buy
	}
	return &s.Sell
}

// balanceChanged reports whether base or quote totals moved by at least
// threshold relative to the previously observed balances.
func (s *GridState) balanceChanged(current domain.Balances, threshold float64) bool {
	if !s.HasBalances {
		return false
	}
	return relChange(s.LastBalances.BaseTotal, current.BaseTotal) >= threshold ||
		relChange(s.LastBalances.QuoteTotal, current.QuoteTotal) >= threshold
}

func relChange(prev, cur float64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return 1
	}
	d := (cur - prev) / prev
	if d < 0 {
		d = -d
	}
	return d
}
