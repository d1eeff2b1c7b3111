package domain

import (
	"math"
	"math/bits"
)

// Spot hold arithmetic shared by the risk engine (holds and releases) and
// the matching engine (funds locked in resting orders).

// HoldAmount is the amount held for an order of the given size. Bids hold
// quote currency at the reserve price plus the taker fee; asks hold base
// currency.
func HoldAmount(action OrderAction, size, reservePrice int64, spec *SymbolSpec) int64 {
	if action == ActionBid {
		return AmountBidTakerFee(size, reservePrice, spec)
	}
	return AmountAsk(size, spec)
}

// CheckedHoldAmount is HoldAmount for unvalidated input. It reports false
// when an operand is negative or the amount does not fit in an int64.
func CheckedHoldAmount(action OrderAction, size, reservePrice int64, spec *SymbolSpec) (int64, bool) {
	if action != ActionBid {
		return MulChecked(size, spec.BaseScaleK)
	}
	unit, ok := MulChecked(reservePrice, spec.QuoteScaleK)
	if !ok || spec.TakerFee < 0 || unit > math.MaxInt64-spec.TakerFee {
		return 0, false
	}
	return MulChecked(size, unit+spec.TakerFee)
}

// MulChecked returns a*b for non-negative operands, or false on a negative
// operand or overflow.
func MulChecked(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

// HoldCurrency is the currency an order of the given side holds.
func HoldCurrency(action OrderAction, spec *SymbolSpec) int32 {
	if action == ActionBid {
		return spec.QuoteCurrency
	}
	return spec.BaseCurrency
}

// AmountAsk is the base currency amount for size lots.
func AmountAsk(size int64, spec *SymbolSpec) int64 {
	return size * spec.BaseScaleK
}

// AmountBid is the quote currency amount for size lots at price, without fees.
func AmountBid(size, price int64, spec *SymbolSpec) int64 {
	return size * (price * spec.QuoteScaleK)
}

// AmountBidTakerFee is AmountBid plus the taker fee for every lot.
func AmountBidTakerFee(size, price int64, spec *SymbolSpec) int64 {
	return size * (price*spec.QuoteScaleK + spec.TakerFee)
}

// AmountBidReleaseCorrTaker returns the excess a taker bid held above the
// execution price.
func AmountBidReleaseCorrTaker(size, priceDiff int64, spec *SymbolSpec) int64 {
	return size * (priceDiff * spec.QuoteScaleK)
}

// AmountBidReleaseCorrMaker returns the excess a maker bid held: the price
// difference plus the fee difference, since the hold assumed the taker fee.
func AmountBidReleaseCorrMaker(size, priceDiff int64, spec *SymbolSpec) int64 {
	return size * (priceDiff*spec.QuoteScaleK + (spec.TakerFee - spec.MakerFee))
}
