package domain

import "fmt"

// SymbolType distinguishes spot pairs from margin-traded contracts.
type SymbolType uint8

const (
	SymbolCurrencyExchangePair SymbolType = iota
	SymbolFuturesContract
)

func (t SymbolType) String() string {
	if t == SymbolFuturesContract {
		return "FUTURES_CONTRACT"
	}
	return "CURRENCY_EXCHANGE_PAIR"
}

// SymbolSpec describes a tradable instrument. Prices are expressed in quote
// currency units per lot, sizes in lots.
type SymbolSpec struct {
	SymbolID      int32      `json:"symbolId"`
	Type          SymbolType `json:"type"`
	BaseCurrency  int32      `json:"baseCurrency"`
	QuoteCurrency int32      `json:"quoteCurrency"`
	// BaseScaleK is the number of base currency units in one lot.
	BaseScaleK int64 `json:"baseScaleK"`
	// QuoteScaleK is the number of quote currency units in one price step.
	QuoteScaleK int64 `json:"quoteScaleK"`
	TakerFee    int64 `json:"takerFee"`
	MakerFee    int64 `json:"makerFee"`
	MarginBuy   int64 `json:"marginBuy"`
	MarginSell  int64 `json:"marginSell"`
}

// Validate checks the fields that the risk arithmetic divides or
// multiplies by.
func (s *SymbolSpec) Validate() error {
	if s.SymbolID <= 0 {
		return &ValidationError{Message: fmt.Sprintf("symbol %d: id must be > 0", s.SymbolID)}
	}
	if s.Type == SymbolCurrencyExchangePair {
		if s.BaseScaleK <= 0 || s.QuoteScaleK <= 0 {
			return &ValidationError{Message: fmt.Sprintf("symbol %d: scale factors must be > 0", s.SymbolID)}
		}
		if s.BaseCurrency == s.QuoteCurrency {
			return &ValidationError{Message: fmt.Sprintf("symbol %d: base and quote currency must differ", s.SymbolID)}
		}
	}
	if s.TakerFee < 0 || s.MakerFee < 0 || s.MakerFee > s.TakerFee {
		return &ValidationError{Message: fmt.Sprintf("symbol %d: fees must satisfy 0 <= maker <= taker", s.SymbolID)}
	}
	if s.MarginBuy < 0 || s.MarginSell < 0 {
		return &ValidationError{Message: fmt.Sprintf("symbol %d: margins must be >= 0", s.SymbolID)}
	}
	return nil
}
