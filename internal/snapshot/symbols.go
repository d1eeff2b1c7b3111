package snapshot

import "github.com/efreitasn/exchangecore/internal/domain"

// WriteSymbolSpec encodes a symbol specification.
func WriteSymbolSpec(w *Writer, s *domain.SymbolSpec) {
	w.Int32(s.SymbolID)
	w.Int8(int8(s.Type))
	w.Int32(s.BaseCurrency)
	w.Int32(s.QuoteCurrency)
	w.Int64(s.BaseScaleK)
	w.Int64(s.QuoteScaleK)
	w.Int64(s.TakerFee)
	w.Int64(s.MakerFee)
	w.Int64(s.MarginBuy)
	w.Int64(s.MarginSell)
}

// ReadSymbolSpec decodes a symbol specification.
func ReadSymbolSpec(r *Reader) *domain.SymbolSpec {
	return &domain.SymbolSpec{
		SymbolID:      r.Int32(),
		Type:          domain.SymbolType(r.Int8()),
		BaseCurrency:  r.Int32(),
		QuoteCurrency: r.Int32(),
		BaseScaleK:    r.Int64(),
		QuoteScaleK:   r.Int64(),
		TakerFee:      r.Int64(),
		MakerFee:      r.Int64(),
		MarginBuy:     r.Int64(),
		MarginSell:    r.Int64(),
	}
}

// WriteOrder encodes a resting order.
func WriteOrder(w *Writer, o *domain.Order) {
	w.Int64(o.OrderID)
	w.Int64(o.UID)
	w.Int64(o.Price)
	w.Int64(o.Size)
	w.Int64(o.Filled)
	w.Int64(o.ReserveBidPrice)
	w.Int8(int8(o.Action))
	w.Int64(o.Timestamp)
}

// ReadOrder decodes a resting order.
func ReadOrder(r *Reader) *domain.Order {
	return &domain.Order{
		OrderID:         r.Int64(),
		UID:             r.Int64(),
		Price:           r.Int64(),
		Size:            r.Int64(),
		Filled:          r.Int64(),
		ReserveBidPrice: r.Int64(),
		Action:          domain.OrderAction(r.Int8()),
		Timestamp:       r.Int64(),
	}
}
