// Package grid turns a reference price into the desired set of resting
// orders, applying inventory multipliers, the position cap, and balance
// limits.
package grid

import (
	"github.com/driftlabs/gridbot/internal/domain"
	"github.com/driftlabs/gridbot/internal/inventory"
)

// feeBuffer pads buy-side quote cost so a fill plus taker/maker fees never
// overdraws the quote balance.
const feeBuffer = 1.002

// Params carries everything one grid generation needs. BuyReference and
// SellReference are usually the same price; they differ when a side runs on
// a synthetic fallback price. A zero reference disables that side.
type Params struct {
	BuyReference  float64
	SellReference float64
	Levels        int
	Spread        float64
	MinOrderSize  float64
	MaxPosition   float64
	Multipliers   inventory.Multipliers
	Balances      domain.Balances
}

// Generate produces the desired orders, buys then sells, innermost level
// first on each side. Buy prices sit strictly below the buy reference and
// sell prices strictly above the sell reference, spaced by Spread per
// level. Levels whose sized amount falls under MinOrderSize are dropped;
// when balances or the position cap cannot carry every level, outermost
// levels are dropped first so the quotes closest to the market survive.
func Generate(p Params) []domain.GridOrder {
	buys := buildSide(p, domain.OrderSideBuy)
	sells := buildSide(p, domain.OrderSideSell)

	buys = capPosition(buys, p.Balances.BaseTotal, p.MaxPosition)
	buys = capQuoteSpend(buys, p.Balances.QuoteFree)
	sells = capBaseSpend(sells, p.Balances.BaseFree)

	return append(buys, sells...)
}

func buildSide(p Params, side domain.OrderSide) []domain.GridOrder {
	ref := p.BuyReference
	mult := p.Multipliers.Buy
	if side == domain.OrderSideSell {
		ref = p.SellReference
		mult = p.Multipliers.Sell
	}
	if ref <= 0 {
		return nil
	}

	size := p.MinOrderSize * mult
	if size < p.MinOrderSize {
		// Inventory correction shrank this side under the exchange minimum;
		// the side is explicitly absent this cycle.
		return nil
	}

	orders := make([]domain.GridOrder, 0, p.Levels)
	for i := 0; i < p.Levels; i++ {
		step := p.Spread * float64(i+1)
		price := ref * (1 - step)
		if side == domain.OrderSideSell {
			price = ref * (1 + step)
		}
		if price <= 0 {
			break
		}
		orders = append(orders, domain.GridOrder{
			Side:  side,
			Level: i,
			Price: price,
			Size:  size,
		})
	}
	return orders
}

// capPosition truncates buy levels once cumulative would-be holdings
// (current position plus committed buy size) reach maxPosition.
func capPosition(buys []domain.GridOrder, position, maxPosition float64) []domain.GridOrder {
	if maxPosition <= 0 {
		return buys
	}
	committed := position
	for i, o := range buys {
		if committed+o.Size > maxPosition {
			return buys[:i]
		}
		committed += o.Size
	}
	return buys
}

// capQuoteSpend drops outermost buy levels until the total quote cost,
// including the fee buffer, fits in the free quote balance.
func capQuoteSpend(buys []domain.GridOrder, quoteFree float64) []domain.GridOrder {
	for len(buys) > 0 {
		var cost float64
		for _, o := range buys {
			cost += o.Price * o.Size * feeBuffer
		}
		if cost <= quoteFree {
			return buys
		}
		buys = buys[:len(buys)-1]
	}
	return buys
}

// capBaseSpend drops outermost sell levels until total base size fits in
// the free base balance.
func capBaseSpend(sells []domain.GridOrder, baseFree float64) []domain.GridOrder {
	for len(sells) > 0 {
		var total float64
		for _, o := range sells {
			total += o.Size
		}
		if total <= baseFree {
			return sells
		}
		sells = sells[:len(sells)-1]
	}
	return sells
}

// SyntheticRefs derives per-side synthetic references from a fallback price
// when deviation filtering emptied the book. The offsets favor rebalancing:
// overweight base pushes the synthetic bid further down so buys only land
// at genuinely better prices, underweight pushes the synthetic ask further
// up; within tolerance the placement is symmetric.
func SyntheticRefs(fallback float64, st inventory.State) (buyRef, sellRef float64) {
	buyRef = fallback * 0.999
	sellRef = fallback * 1.001
	if st.WithinTolerance() {
		return buyRef, sellRef
	}
	if st.Deviation() > 0 {
		buyRef = fallback * 0.998
	} else {
		sellRef = fallback * 1.002
	}
	return buyRef, sellRef
}
