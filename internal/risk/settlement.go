package risk

import (
	"fmt"
	"math"

	"github.com/efreitasn/exchangecore/internal/domain"
	"go.uber.org/zap"
)

// HandlerRiskRelease runs the settlement stage for cmd: it applies the
// events of users owned by this shard and refreshes the last price cache
// from the attached market data. A returned error means the shard state
// no longer agrees with the order books.
func (e *Engine) HandlerRiskRelease(cmd *domain.OrderCommand) error {
	if cmd.MarketData == nil && len(cmd.Events) == 0 {
		return nil
	}
	spec := e.symbols[cmd.Symbol]
	if spec == nil {
		return fmt.Errorf("%w: %w: settling symbol %d", domain.ErrStateCorruption, domain.ErrSymbolNotFound, cmd.Symbol)
	}

	for i := range cmd.Events {
		ev := &cmd.Events[i]
		var err error
		switch spec.Type {
		case domain.SymbolCurrencyExchangePair:
			err = e.settleExchange(ev, spec)
		case domain.SymbolFuturesContract:
			err = e.settleMargin(ev, spec)
		}
		if err != nil {
			return fmt.Errorf("settle %s event of order %d: %w", ev.EventType, ev.ActiveOrderID, err)
		}
	}

	if md := cmd.MarketData; md != nil {
		p, ok := e.lastPrices[cmd.Symbol]
		if !ok {
			p = &LastPrice{}
			e.lastPrices[cmd.Symbol] = p
		}
		p.Ask = math.MaxInt64
		if md.AskSize() != 0 {
			p.Ask = md.AskPrices[0]
		}
		p.Bid = 0
		if md.BidSize() != 0 {
			p.Bid = md.BidPrices[0]
		}
	}
	return nil
}

func (e *Engine) settleExchange(ev *domain.MatcherTradeEvent, spec *domain.SymbolSpec) error {
	switch ev.EventType {
	case domain.EventTrade:
		if e.OwnsUID(ev.ActiveOrderUID) {
			if err := e.exchangeTransfer(ev.ActiveOrderUID, ev.ActiveOrderAction == domain.ActionAsk, ev, spec, true); err != nil {
				return err
			}
		}
		if e.OwnsUID(ev.MatchedOrderUID) {
			return e.exchangeTransfer(ev.MatchedOrderUID, ev.ActiveOrderAction != domain.ActionAsk, ev, spec, false)
		}
	case domain.EventCancel, domain.EventReject:
		if !e.OwnsUID(ev.ActiveOrderUID) {
			return nil
		}
		u, err := e.profiles.userProfileOrErr(ev.ActiveOrderUID)
		if err != nil {
			return err
		}
		currency := domain.HoldCurrency(ev.ActiveOrderAction, spec)
		u.Accounts[currency] += domain.HoldAmount(ev.ActiveOrderAction, ev.Size, ev.BidderHoldPrice, spec)
	default:
		e.logger.Error("unsupported event type", zap.Stringer("event_type", ev.EventType))
	}
	return nil
}

// exchangeTransfer settles one side of a spot trade. The seller receives
// the proceeds minus its fee. The buyer receives the base currency and the
// part of its hold not consumed by the execution price and fee.
func (e *Engine) exchangeTransfer(uid int64, selling bool, ev *domain.MatcherTradeEvent, spec *domain.SymbolSpec, taker bool) error {
	u, err := e.profiles.userProfileOrErr(uid)
	if err != nil {
		return err
	}
	fee := spec.MakerFee * ev.Size
	if taker {
		fee = spec.TakerFee * ev.Size
	}
	e.fees[spec.QuoteCurrency] += fee

	if selling {
		u.Accounts[spec.QuoteCurrency] += domain.AmountBid(ev.Size, ev.Price, spec) - fee
		return nil
	}
	priceDiff := ev.BidderHoldPrice - ev.Price
	if taker {
		u.Accounts[spec.QuoteCurrency] += domain.AmountBidReleaseCorrTaker(ev.Size, priceDiff, spec)
	} else {
		u.Accounts[spec.QuoteCurrency] += domain.AmountBidReleaseCorrMaker(ev.Size, priceDiff, spec)
	}
	u.Accounts[spec.BaseCurrency] += domain.AmountAsk(ev.Size, spec)
	return nil
}

func (e *Engine) settleMargin(ev *domain.MatcherTradeEvent, spec *domain.SymbolSpec) error {
	switch ev.EventType {
	case domain.EventTrade:
		if e.OwnsUID(ev.ActiveOrderUID) {
			if err := e.marginTrade(ev.ActiveOrderUID, ev.ActiveOrderAction, ev, spec, spec.TakerFee); err != nil {
				return err
			}
		}
		if e.OwnsUID(ev.MatchedOrderUID) {
			return e.marginTrade(ev.MatchedOrderUID, ev.ActiveOrderAction.Opposite(), ev, spec, spec.MakerFee)
		}
	case domain.EventCancel, domain.EventReject:
		if !e.OwnsUID(ev.ActiveOrderUID) {
			return nil
		}
		u, err := e.profiles.userProfileOrErr(ev.ActiveOrderUID)
		if err != nil {
			return err
		}
		p, err := u.position(ev.Symbol)
		if err != nil {
			return err
		}
		if err := p.pendingRelease(ev.ActiveOrderAction, ev.Size); err != nil {
			return err
		}
		u.removeIfEmpty(p)
	default:
		e.logger.Error("unsupported event type", zap.Stringer("event_type", ev.EventType))
	}
	return nil
}

// marginTrade updates the position of uid and charges the fee on the
// volume the trade opened.
func (e *Engine) marginTrade(uid int64, action domain.OrderAction, ev *domain.MatcherTradeEvent, spec *domain.SymbolSpec, feeRate int64) error {
	u, err := e.profiles.userProfileOrErr(uid)
	if err != nil {
		return err
	}
	p, err := u.position(ev.Symbol)
	if err != nil {
		return err
	}
	opened, err := p.updateForTrade(action, ev.Size, ev.Price)
	if err != nil {
		return err
	}
	if fee := feeRate * opened; fee != 0 {
		u.Accounts[spec.QuoteCurrency] -= fee
		e.fees[spec.QuoteCurrency] += fee
	}
	u.removeIfEmpty(p)
	return nil
}
