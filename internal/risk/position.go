package risk

import (
	"fmt"
	"math"

	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/snapshot"
)

// LastPrice is the best ask and bid last seen for a symbol. An empty ask
// side is stored as math.MaxInt64 and an empty bid side as zero.
type LastPrice struct {
	Ask int64
	Bid int64
}

// averaging prices both sides at the mid price.
func (p LastPrice) averaging() LastPrice {
	mid := (p.Ask + p.Bid) >> 1
	return LastPrice{Ask: mid, Bid: mid}
}

// dummyPrice is used to estimate positions of symbols that never had
// market data.
var dummyPrice = LastPrice{Ask: 42, Bid: 42}

// SymbolPositionRecord is a user's margin position in one futures symbol.
// It also tracks the volume of orders that have passed the risk check but
// are not yet settled.
type SymbolPositionRecord struct {
	UID      int64
	Symbol   int32
	Currency int32

	Direction    domain.PositionDirection
	OpenVolume   int64
	OpenPriceSum int64
	Profit       int64

	PendingSellSize int64
	PendingBuySize  int64
}

func newPositionRecord(uid int64, spec *domain.SymbolSpec) *SymbolPositionRecord {
	return &SymbolPositionRecord{UID: uid, Symbol: spec.SymbolID, Currency: spec.QuoteCurrency}
}

// IsEmpty reports whether the record holds neither an open position nor
// pending orders.
func (p *SymbolPositionRecord) IsEmpty() bool {
	return p.Direction == domain.DirectionEmpty && p.PendingSellSize == 0 && p.PendingBuySize == 0
}

func (p *SymbolPositionRecord) pendingHold(action domain.OrderAction, size int64) {
	if action == domain.ActionAsk {
		p.PendingSellSize += size
	} else {
		p.PendingBuySize += size
	}
}

func (p *SymbolPositionRecord) pendingRelease(action domain.OrderAction, size int64) error {
	if action == domain.ActionAsk {
		p.PendingSellSize -= size
		if p.PendingSellSize < 0 {
			return fmt.Errorf("%w: uid %d symbol %d: pending sell size %d", domain.ErrStateCorruption, p.UID, p.Symbol, p.PendingSellSize)
		}
		return nil
	}
	p.PendingBuySize -= size
	if p.PendingBuySize < 0 {
		return fmt.Errorf("%w: uid %d symbol %d: pending buy size %d", domain.ErrStateCorruption, p.UID, p.Symbol, p.PendingBuySize)
	}
	return nil
}

// EstimateProfit returns the realized profit plus the unrealized profit of
// the open volume at the given price. Without a usable price the position
// is valued at its margin requirement.
func (p *SymbolPositionRecord) EstimateProfit(spec *domain.SymbolSpec, price *LastPrice) int64 {
	switch p.Direction {
	case domain.DirectionLong:
		if price != nil && price.Bid != 0 {
			return p.Profit + p.OpenVolume*price.Bid - p.OpenPriceSum
		}
		return p.Profit + spec.MarginBuy*p.OpenVolume
	case domain.DirectionShort:
		if price != nil && price.Ask != math.MaxInt64 {
			return p.Profit + p.OpenPriceSum - p.OpenVolume*price.Ask
		}
		return p.Profit + spec.MarginSell*p.OpenVolume
	}
	return p.Profit
}

// RequiredMargin is the margin covering the open position together with
// every pending order on the riskier side.
func (p *SymbolPositionRecord) RequiredMargin(spec *domain.SymbolSpec) int64 {
	signed := p.OpenVolume * p.Direction.Multiplier()
	return max(spec.MarginBuy*(p.PendingBuySize+signed), spec.MarginSell*(p.PendingSellSize-signed))
}

// marginFits reports whether the margin of the position stays within int64
// once an order of size is added on either side.
func (p *SymbolPositionRecord) marginFits(spec *domain.SymbolSpec, size int64) bool {
	exposure := p.OpenVolume
	for _, v := range []int64{p.PendingBuySize, p.PendingSellSize, size} {
		if v > math.MaxInt64-exposure {
			return false
		}
		exposure += v
	}
	_, ok := domain.MulChecked(max(spec.MarginBuy, spec.MarginSell), exposure)
	return ok
}

// requiredMarginForOrder returns the margin required after adding an order
// of the given side and size, or -1 if the order does not increase it.
func (p *SymbolPositionRecord) requiredMarginForOrder(spec *domain.SymbolSpec, action domain.OrderAction, size int64) int64 {
	signed := p.OpenVolume * p.Direction.Multiplier()
	buy := p.PendingBuySize + signed
	sell := p.PendingSellSize - signed
	current := max(spec.MarginBuy*buy, spec.MarginSell*sell)
	if action == domain.ActionBid {
		buy += size
	} else {
		sell += size
	}
	next := max(spec.MarginBuy*buy, spec.MarginSell*sell)
	if next <= current {
		return -1
	}
	return next
}

// updateForTrade applies a fill of size at price on the given side. The
// opposite open volume is closed first, realizing profit against the
// average open price; any remainder opens or extends the position. It
// returns the size opened.
func (p *SymbolPositionRecord) updateForTrade(action domain.OrderAction, size, price int64) (int64, error) {
	if err := p.pendingRelease(action, size); err != nil {
		return 0, err
	}
	toOpen := p.closeOpposite(action, size, price)
	if toOpen > 0 {
		p.Direction = domain.DirectionOf(action)
		p.OpenVolume += toOpen
		p.OpenPriceSum += toOpen * price
	}
	return toOpen, nil
}

func (p *SymbolPositionRecord) closeOpposite(action domain.OrderAction, size, price int64) int64 {
	if p.Direction == domain.DirectionEmpty || p.Direction == domain.DirectionOf(action) {
		return size
	}
	toClose := min(p.OpenVolume, size)
	closedSum := p.OpenPriceSum * toClose / p.OpenVolume
	p.Profit += p.Direction.Multiplier() * (toClose*price - closedSum)
	p.OpenVolume -= toClose
	p.OpenPriceSum -= closedSum
	if p.OpenVolume == 0 {
		p.Direction = domain.DirectionEmpty
		p.OpenPriceSum = 0
	}
	return size - toClose
}

// View returns a copy for reports.
func (p *SymbolPositionRecord) View() domain.PositionView {
	return domain.PositionView{
		Symbol:          p.Symbol,
		Currency:        p.Currency,
		Direction:       p.Direction,
		OpenVolume:      p.OpenVolume,
		OpenPriceSum:    p.OpenPriceSum,
		Profit:          p.Profit,
		PendingSellSize: p.PendingSellSize,
		PendingBuySize:  p.PendingBuySize,
	}
}

func (p *SymbolPositionRecord) MarshalSnapshot(w *snapshot.Writer) {
	w.Int32(p.Symbol)
	w.Int32(p.Currency)
	w.Int8(int8(p.Direction))
	w.Int64(p.OpenVolume)
	w.Int64(p.OpenPriceSum)
	w.Int64(p.Profit)
	w.Int64(p.PendingSellSize)
	w.Int64(p.PendingBuySize)
}

func readPositionRecord(r *snapshot.Reader, uid int64) *SymbolPositionRecord {
	return &SymbolPositionRecord{
		UID:             uid,
		Symbol:          r.Int32(),
		Currency:        r.Int32(),
		Direction:       domain.PositionDirection(r.Int8()),
		OpenVolume:      r.Int64(),
		OpenPriceSum:    r.Int64(),
		Profit:          r.Int64(),
		PendingSellSize: r.Int64(),
		PendingBuySize:  r.Int64(),
	}
}
