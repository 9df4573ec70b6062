// Package reconcile diffs the desired grid against live exchange orders and
// decides the minimal cancel/place set, under stability and cooldown rules
// that keep the bot from churning orders on every tick.
package reconcile

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/driftlabs/gridbot/internal/domain"
)

const (
	// priceIdentityTolerance treats a desired level and a live order as the
	// same quote when their prices differ by less than 0.1%.
	priceIdentityTolerance = 0.001

	// cooldownMultiple of the polling interval must elapse between grid
	// updates for a side, unless a bypass condition fires.
	cooldownMultiple = 3
)

// Config holds the reconciliation parameters, immutable per run.
type Config struct {
	GridLevels             int
	GridSpread             float64
	PollingInterval        time.Duration
	BalanceChangeThreshold float64
	CancelAllOnGridUpdate  bool
	StrictGridCount        bool
}

// Actions is the decided order action set for one cycle. Cancels are
// executed before places so freed funds can cover the new orders.
type Actions struct {
	Cancel []domain.LiveOrder
	Place  []domain.GridOrder
	Kept   int
}

// Empty reports whether the cycle has nothing to do.
func (a Actions) Empty() bool {
	return len(a.Cancel) == 0 && len(a.Place) == 0
}

// Reconciler computes order actions. It owns no state; the caller passes
// the GridState it keeps between cycles.
type Reconciler struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Reconciler.
func New(cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{cfg: cfg, logger: logger.With(slog.String("component", "reconciler"))}
}

// Reconcile decides the action set for both sides. reference is the price
// the desired grid was centered on; balances are the fresh cycle balances
// used for change detection. state is mutated in place: anchors, update
// timestamps, and last-seen balances advance only for sides that update.
func (r *Reconciler) Reconcile(state *GridState, desired []domain.GridOrder, live []domain.LiveOrder, reference float64, balances domain.Balances, now time.Time) Actions {
	balanceMoved := state.balanceChanged(balances, r.cfg.BalanceChangeThreshold)

	var out Actions
	for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		acts := r.reconcileSide(state, side, filterDesired(desired, side), filterLive(live, side), reference, balanceMoved, now)
		out.Cancel = append(out.Cancel, acts.Cancel...)
		out.Place = append(out.Place, acts.Place...)
		out.Kept += acts.Kept
	}

	state.LastBalances = balances
	state.HasBalances = true
	return out
}

func (r *Reconciler) reconcileSide(state *GridState, side domain.OrderSide, desired []domain.GridOrder, live []domain.LiveOrder, reference float64, balanceMoved bool, now time.Time) Actions {
	ss := state.side(side)
	log := r.logger.With(slog.String("side", string(side)))

	trigger, reason := r.shouldUpdate(ss, len(desired), len(live), reference, balanceMoved, now)
	if !trigger {
		acts := Actions{Kept: len(live)}
		if r.cfg.StrictGridCount {
			acts = r.enforceGridCount(acts, live, reference, side)
		}
		return acts
	}

	log.Info("grid update triggered", slog.String("reason", reason), slog.Float64("reference", reference))

	var acts Actions
	if r.cfg.CancelAllOnGridUpdate {
		acts.Cancel = append(acts.Cancel, live...)
		acts.Place = append(acts.Place, desired...)
	} else {
		acts = diffSide(desired, live)
	}

	ss.AnchorPrice = reference
	ss.LastUpdate = now
	ss.Prices = ss.Prices[:0]
	for _, o := range desired {
		ss.Prices = append(ss.Prices, o.Price)
	}

	if r.cfg.StrictGridCount {
		acts = r.enforceGridCount(acts, live, reference, side)
	}

	log.Info("reconciliation decided",
		slog.Int("cancel", len(acts.Cancel)),
		slog.Int("place", len(acts.Place)),
		slog.Int("kept", acts.Kept),
	)
	return acts
}

// shouldUpdate decides whether a side's grid is re-evaluated this cycle.
// The first grid always applies. After that: a live-count mismatch or a
// material balance change bypasses the cooldown; otherwise the reference
// must have moved by more than half the grid spread AND the cooldown must
// have elapsed.
func (r *Reconciler) shouldUpdate(ss *SideState, desiredCount, liveCount int, reference float64, balanceMoved bool, now time.Time) (bool, string) {
	if ss.AnchorPrice <= 0 {
		return true, "initial grid"
	}
	if liveCount != desiredCount {
		return true, "live order count mismatch"
	}
	if balanceMoved {
		return true, "balance change"
	}

	cooldown := time.Duration(cooldownMultiple) * r.cfg.PollingInterval
	if now.Sub(ss.LastUpdate) < cooldown {
		return false, ""
	}
	moved := math.Abs(reference-ss.AnchorPrice) / ss.AnchorPrice
	if moved > r.cfg.GridSpread/2 {
		return true, "price moved past threshold"
	}
	return false, ""
}

// diffSide computes the minimal action set: live orders without a matching
// desired level are cancelled, desired levels without a matching live order
// are placed, matches are kept untouched.
func diffSide(desired []domain.GridOrder, live []domain.LiveOrder) Actions {
	var acts Actions
	matchedLive := make([]bool, len(live))

	for _, want := range desired {
		found := false
		for i, have := range live {
			if matchedLive[i] {
				continue
			}
			if samePrice(want.Price, have.Price) {
				matchedLive[i] = true
				found = true
				acts.Kept++
				break
			}
		}
		if !found {
			acts.Place = append(acts.Place, want)
		}
	}
	for i, have := range live {
		if !matchedLive[i] {
			acts.Cancel = append(acts.Cancel, have)
		}
	}
	return acts
}

// enforceGridCount cancels the outermost excess live orders when a side
// holds more than GridLevels after this cycle's actions apply.
func (r *Reconciler) enforceGridCount(acts Actions, live []domain.LiveOrder, reference float64, side domain.OrderSide) Actions {
	cancelled := make(map[string]bool, len(acts.Cancel))
	for _, c := range acts.Cancel {
		cancelled[c.ID] = true
	}

	var surviving []domain.LiveOrder
	for _, o := range live {
		if !cancelled[o.ID] {
			surviving = append(surviving, o)
		}
	}
	excess := len(surviving) + len(acts.Place) - r.cfg.GridLevels
	if excess <= 0 {
		return acts
	}

	// Outermost first: furthest from the reference price.
	sort.Slice(surviving, func(i, j int) bool {
		return math.Abs(surviving[i].Price-reference) > math.Abs(surviving[j].Price-reference)
	})
	for i := 0; i < excess && i < len(surviving); i++ {
		acts.Cancel = append(acts.Cancel, surviving[i])
		if acts.Kept > 0 {
			acts.Kept--
		}
	}
	r.logger.Warn("strict grid count enforced",
		slog.String("side", string(side)),
		slog.Int("excess", excess),
	)
	return acts
}

func samePrice(a, b float64) bool {
	if b == 0 {
		return a == 0
	}
	return math.Abs(a-b)/b < priceIdentityTolerance
}

func filterDesired(orders []domain.GridOrder, side domain.OrderSide) []domain.GridOrder {
	var out []domain.GridOrder
	for _, o := range orders {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func filterLive(orders []domain.LiveOrder, side domain.OrderSide) []domain.LiveOrder {
	var out []domain.LiveOrder
	for _, o := range orders {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}
