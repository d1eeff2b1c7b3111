package config

import (
	"cmp"
	"fmt"
	"os"
	"slices"

	"github.com/efreitasn/exchangecore/internal/domain"
	"gopkg.in/yaml.v3"
)

// Bootstrap is the initial state loaded from BOOTSTRAP_FILE when no
// snapshot exists.
type Bootstrap struct {
	Symbols  []SymbolEntry  `yaml:"symbols"`
	Accounts []AccountEntry `yaml:"accounts"`
}

// SymbolEntry describes one instrument.
type SymbolEntry struct {
	ID          int32  `yaml:"id"`
	Type        string `yaml:"type"`
	Base        int32  `yaml:"base"`
	Quote       int32  `yaml:"quote"`
	BaseScaleK  int64  `yaml:"base_scale_k"`
	QuoteScaleK int64  `yaml:"quote_scale_k"`
	TakerFee    int64  `yaml:"taker_fee"`
	MakerFee    int64  `yaml:"maker_fee"`
	MarginBuy   int64  `yaml:"margin_buy"`
	MarginSell  int64  `yaml:"margin_sell"`
}

// AccountEntry funds one user.
type AccountEntry struct {
	UID      int64           `yaml:"uid"`
	Balances map[int32]int64 `yaml:"balances"`
}

// LoadBootstrap reads and validates a bootstrap file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap file: %w", err)
	}
	return ParseBootstrap(data)
}

// ParseBootstrap decodes and validates a YAML bootstrap document.
func ParseBootstrap(data []byte) (*Bootstrap, error) {
	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("invalid bootstrap file: %w", err)
	}
	if _, err := b.SymbolSpecs(); err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(b.Accounts))
	for _, a := range b.Accounts {
		if seen[a.UID] {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("duplicate account uid %d", a.UID)}
		}
		seen[a.UID] = true
		for cur, amount := range a.Balances {
			if amount < 0 {
				return nil, &domain.ValidationError{Message: fmt.Sprintf("account %d: negative balance %d in currency %d", a.UID, amount, cur)}
			}
		}
	}
	return &b, nil
}

// SymbolSpecs converts the symbol entries.
func (b *Bootstrap) SymbolSpecs() ([]domain.SymbolSpec, error) {
	specs := make([]domain.SymbolSpec, 0, len(b.Symbols))
	seen := make(map[int32]bool, len(b.Symbols))
	for _, s := range b.Symbols {
		var typ domain.SymbolType
		switch s.Type {
		case "exchange":
			typ = domain.SymbolCurrencyExchangePair
		case "futures":
			typ = domain.SymbolFuturesContract
		default:
			return nil, &domain.ValidationError{Message: fmt.Sprintf("symbol %d: unknown type %q, must be one of: exchange, futures", s.ID, s.Type)}
		}
		spec := domain.SymbolSpec{
			SymbolID:      s.ID,
			Type:          typ,
			BaseCurrency:  s.Base,
			QuoteCurrency: s.Quote,
			BaseScaleK:    s.BaseScaleK,
			QuoteScaleK:   s.QuoteScaleK,
			TakerFee:      s.TakerFee,
			MakerFee:      s.MakerFee,
			MarginBuy:     s.MarginBuy,
			MarginSell:    s.MarginSell,
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if seen[s.ID] {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("duplicate symbol %d", s.ID)}
		}
		seen[s.ID] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

// Commands returns the BINARY_DATA commands that create the bootstrap
// state: symbols first, then accounts.
func (b *Bootstrap) Commands() ([]*domain.OrderCommand, error) {
	specs, err := b.SymbolSpecs()
	if err != nil {
		return nil, err
	}
	accounts := make(map[int64]map[int32]int64, len(b.Accounts))
	for _, a := range b.Accounts {
		balances := make(map[int32]int64, len(a.Balances))
		for cur, amount := range a.Balances {
			if amount != 0 {
				balances[cur] = amount
			}
		}
		accounts[a.UID] = balances
	}
	slices.SortFunc(specs, func(x, y domain.SymbolSpec) int { return cmp.Compare(x.SymbolID, y.SymbolID) })
	return []*domain.OrderCommand{
		{Command: domain.CommandBinaryData, Binary: domain.BatchAddSymbols{Symbols: specs}},
		{Command: domain.CommandBinaryData, Binary: domain.BatchAddAccounts{Accounts: accounts}},
	}, nil
}
