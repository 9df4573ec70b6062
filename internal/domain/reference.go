package domain

// PriceSource identifies how a reference price was derived.
type PriceSource string

const (
	PriceSourceVWAP       PriceSource = "vwap"
	PriceSourceNearestBid PriceSource = "nearest_bid"
	PriceSourceNearestAsk PriceSource = "nearest_ask"
	PriceSourceTickerMid  PriceSource = "ticker_mid"
	PriceSourceLast       PriceSource = "last"

	// PriceSourceAuto is only valid as a fallback mode: try vwap, then
	// ticker mid with a spread sanity check, then last.
	PriceSourceAuto PriceSource = "auto"
)

// ValidFilterReference reports whether s can be used as the outlier filter
// reference source.
func ValidFilterReference(s PriceSource) bool {
	switch s {
	case PriceSourceVWAP, PriceSourceNearestBid, PriceSourceNearestAsk,
		PriceSourceTickerMid, PriceSourceLast:
		return true
	}
	return false
}

// ValidFallbackMode reports whether s can be used as the out-of-range
// fallback price mode.
func ValidFallbackMode(s PriceSource) bool {
	return s == PriceSourceAuto || ValidFilterReference(s)
}

// ReferencePrice is a trusted price plus the source it came from.
// Value is always > 0; computations that cannot produce a positive price
// fail with ErrNoReferencePrice instead of returning a zero value.
type ReferencePrice struct {
	Value  float64
	Source PriceSource
}
