// Package risk implements the pre-trade checks and post-trade settlement of
// user accounts. Users are partitioned across shards by uid; each Engine
// owns one shard and is driven by a single goroutine.
package risk

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/snapshot"
	"github.com/efreitasn/exchangecore/internal/store"
	"go.uber.org/zap"
)

// Engine is one risk shard. A uid belongs to the shard where uid&mask
// equals the shard id.
type Engine struct {
	shardID   int
	shardMask int64

	symbols     map[int32]*domain.SymbolSpec
	profiles    *ProfileService
	lastPrices  map[int32]*LastPrice
	fees        map[int32]int64
	adjustments map[int32]int64

	store  store.SnapshotStore
	logger *zap.Logger
}

// NewEngine creates an empty risk shard. numShards must be a power of two.
func NewEngine(shardID, numShards int, st store.SnapshotStore, logger *zap.Logger) (*Engine, error) {
	if numShards <= 0 || numShards&(numShards-1) != 0 {
		return nil, fmt.Errorf("%w: %d risk shards", domain.ErrInvalidShardCount, numShards)
	}
	if shardID < 0 || shardID >= numShards {
		return nil, fmt.Errorf("%w: shard %d of %d", domain.ErrShardMismatch, shardID, numShards)
	}
	return &Engine{
		shardID:     shardID,
		shardMask:   int64(numShards - 1),
		symbols:     make(map[int32]*domain.SymbolSpec),
		profiles:    NewProfileService(),
		lastPrices:  make(map[int32]*LastPrice),
		fees:        make(map[int32]int64),
		adjustments: make(map[int32]int64),
		store:       st,
		logger:      logger.Named("risk").With(zap.Int("shard", shardID)),
	}, nil
}

// LoadEngine restores a risk shard from snapshot snapshotID. The snapshot
// must have been taken by the same shard of an equally sized layout.
func LoadEngine(snapshotID int64, shardID, numShards int, st store.SnapshotStore, logger *zap.Logger) (*Engine, error) {
	e, err := NewEngine(shardID, numShards, st, logger)
	if err != nil {
		return nil, err
	}
	data, err := st.Load(snapshotID, store.ModuleRisk, shardID)
	if err != nil {
		return nil, err
	}
	r := snapshot.NewReader(data)
	gotShard := int(r.Int32())
	gotMask := r.Int64()
	if r.Err() == nil && (gotShard != e.shardID || gotMask != e.shardMask) {
		return nil, fmt.Errorf("%w: snapshot holds shard %d mask %d, want shard %d mask %d",
			domain.ErrShardMismatch, gotShard, gotMask, e.shardID, e.shardMask)
	}
	e.symbols = snapshot.ReadMap(r, (*snapshot.Reader).Int32, snapshot.ReadSymbolSpec)
	e.profiles = readProfileService(r)
	e.lastPrices = snapshot.ReadMap(r, (*snapshot.Reader).Int32, func(r *snapshot.Reader) *LastPrice {
		return &LastPrice{Ask: r.Int64(), Bid: r.Int64()}
	})
	e.fees = snapshot.ReadInt32Int64Map(r)
	e.adjustments = snapshot.ReadInt32Int64Map(r)
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode risk shard %d of snapshot %d: %w", shardID, snapshotID, err)
	}
	return e, nil
}

// ShardID returns the shard index.
func (e *Engine) ShardID() int {
	return e.shardID
}

// Profiles returns the user profiles of the shard.
func (e *Engine) Profiles() *ProfileService {
	return e.profiles
}

// Symbol returns the specification of symbol, or nil.
func (e *Engine) Symbol(symbol int32) *domain.SymbolSpec {
	return e.symbols[symbol]
}

// OwnsUID reports whether uid is handled by this shard.
func (e *Engine) OwnsUID(uid int64) bool {
	return e.shardMask == 0 || uid&e.shardMask == int64(e.shardID)
}

// PreProcessCommand runs the pre-trade stage for cmd. It returns true for a
// barrier command after which the pipeline must drain before continuing.
func (e *Engine) PreProcessCommand(cmd *domain.OrderCommand) bool {
	switch cmd.Command {
	case domain.CommandMoveOrder, domain.CommandCancelOrder, domain.CommandOrderBookRequest:
		return false

	case domain.CommandPlaceOrder:
		if e.OwnsUID(cmd.UID) {
			cmd.ResultCode = e.placeOrderRiskCheck(cmd)
		}

	case domain.CommandAddUser:
		if e.OwnsUID(cmd.UID) {
			if e.profiles.AddEmptyUserProfile(cmd.UID) {
				cmd.ResultCode = domain.ResultSuccess
			} else {
				cmd.ResultCode = domain.ResultUserMgmtUserAlreadyExists
			}
		}

	case domain.CommandBalanceAdjustment:
		if e.OwnsUID(cmd.UID) {
			cmd.ResultCode = e.balanceAdjustment(cmd.UID, cmd.Symbol, cmd.Price, cmd.OrderID)
		}

	case domain.CommandBinaryData:
		e.processBinary(cmd)
		if e.shardID == 0 {
			cmd.ResultCode = domain.ResultValidForMatchingEngine
		}

	case domain.CommandReset:
		e.reset()
		if e.shardID == 0 {
			cmd.ResultCode = domain.ResultSuccess
		}

	case domain.CommandNop:
		if e.shardID == 0 {
			cmd.ResultCode = domain.ResultSuccess
		}

	case domain.CommandPersistStateMatching:
		if e.shardID == 0 {
			cmd.ResultCode = domain.ResultValidForMatchingEngine
		}
		return true

	case domain.CommandPersistStateRisk:
		ok := e.persist(cmd.OrderID)
		cmd.SetResultVolatile(ok, domain.ResultSuccess, domain.ResultStatePersistRiskEngineFailed)
	}
	return false
}

func (e *Engine) balanceAdjustment(uid int64, currency int32, amount, transactionID int64) domain.ResultCode {
	res := e.profiles.BalanceAdjustment(uid, currency, amount, transactionID)
	if res == domain.ResultSuccess {
		e.adjustments[currency] -= amount
	}
	return res
}

func (e *Engine) placeOrderRiskCheck(cmd *domain.OrderCommand) domain.ResultCode {
	u := e.profiles.UserProfile(cmd.UID)
	if u == nil {
		e.logger.Warn("user profile not found", zap.Int64("uid", cmd.UID), zap.Int64("order_id", cmd.OrderID))
		return domain.ResultAuthInvalidUser
	}
	spec := e.symbols[cmd.Symbol]
	if spec == nil {
		e.logger.Warn("symbol not found", zap.Int32("symbol", cmd.Symbol), zap.Int64("order_id", cmd.OrderID))
		return domain.ResultInvalidSymbol
	}
	if !e.placeOrder(cmd, u, spec) {
		e.logger.Debug("insufficient funds",
			zap.Int64("uid", cmd.UID),
			zap.Int64("order_id", cmd.OrderID),
			zap.Stringer("action", cmd.Action),
			zap.Int64("price", cmd.Price),
			zap.Int64("size", cmd.Size),
		)
		return domain.ResultRiskNSF
	}
	u.CommandsCounter++
	return domain.ResultValidForMatchingEngine
}

func (e *Engine) placeOrder(cmd *domain.OrderCommand, u *UserProfile, spec *domain.SymbolSpec) bool {
	switch spec.Type {
	case domain.SymbolCurrencyExchangePair:
		return e.placeExchangeOrder(cmd, u, spec)
	case domain.SymbolFuturesContract:
		p := u.positionOrCreate(spec)
		if e.canPlaceMarginOrder(cmd, u, spec, p) {
			p.pendingHold(cmd.Action, cmd.Size)
			return true
		}
		u.removeIfEmpty(p)
		return false
	}
	e.logger.Warn("unsupported symbol type", zap.Int32("symbol", spec.SymbolID), zap.Stringer("type", spec.Type))
	return false
}

// placeExchangeOrder debits the hold from the account, then checks that the
// new balance together with the free futures margin in that currency is
// not negative. The debit is reverted on failure.
func (e *Engine) placeExchangeOrder(cmd *domain.OrderCommand, u *UserProfile, spec *domain.SymbolSpec) bool {
	if cmd.Action == domain.ActionBid && cmd.ReserveBidPrice < cmd.Price {
		e.logger.Warn("reserve bid price below price",
			zap.Int64("order_id", cmd.OrderID),
			zap.Int64("reserve_bid_price", cmd.ReserveBidPrice),
			zap.Int64("price", cmd.Price),
		)
		return false
	}
	// Sell proceeds below the taker fee would drive the quote account negative.
	if cmd.Action == domain.ActionAsk {
		if proceeds, ok := domain.MulChecked(cmd.Price, spec.QuoteScaleK); ok && proceeds < spec.TakerFee {
			e.logger.Warn("ask price below taker fee",
				zap.Int64("order_id", cmd.OrderID),
				zap.Int64("price", cmd.Price),
				zap.Int64("taker_fee", spec.TakerFee),
			)
			return false
		}
	}
	currency := domain.HoldCurrency(cmd.Action, spec)

	holdPrice := cmd.Price
	if cmd.Action == domain.ActionBid {
		holdPrice = cmd.ReserveBidPrice
	}
	amount, ok := domain.CheckedHoldAmount(cmd.Action, cmd.Size, holdPrice, spec)
	if !ok {
		e.logger.Warn("hold amount overflows",
			zap.Int64("order_id", cmd.OrderID),
			zap.Int64("size", cmd.Size),
			zap.Int64("hold_price", holdPrice),
		)
		return false
	}

	prev, existed := u.Accounts[currency]
	if prev < math.MinInt64+amount {
		return false
	}
	freeFuturesMargin := e.freeMargin(u, currency, spec.SymbolID)
	newBalance := prev - amount
	u.Accounts[currency] = newBalance
	if newBalance+freeFuturesMargin >= 0 {
		return true
	}
	if existed {
		u.Accounts[currency] = prev
	} else {
		delete(u.Accounts, currency)
	}
	return false
}

// canPlaceMarginOrder reports whether the balance plus free margin covers
// the margin required after the order. Orders that do not increase the
// requirement are always allowed. Only positions settled in the order's
// quote currency are considered.
func (e *Engine) canPlaceMarginOrder(cmd *domain.OrderCommand, u *UserProfile, spec *domain.SymbolSpec, p *SymbolPositionRecord) bool {
	if !p.marginFits(spec, cmd.Size) {
		return false
	}
	newMargin := p.requiredMarginForOrder(spec, cmd.Action, cmd.Size)
	if newMargin == -1 {
		return true
	}
	free := e.freeMargin(u, spec.QuoteCurrency, spec.SymbolID) + p.EstimateProfit(spec, e.lastPrices[spec.SymbolID])
	return newMargin <= u.Accounts[p.Currency]+free
}

// freeMargin sums estimated profit minus required margin over the positions
// of u settled in currency, except the one in symbol skip.
func (e *Engine) freeMargin(u *UserProfile, currency, skip int32) int64 {
	var free int64
	for symbol, p := range u.Positions {
		if symbol == skip || p.Currency != currency {
			continue
		}
		spec := e.symbols[symbol]
		if spec == nil {
			continue
		}
		free += p.EstimateProfit(spec, e.lastPrices[symbol]) - p.RequiredMargin(spec)
	}
	return free
}

func (e *Engine) processBinary(cmd *domain.OrderCommand) {
	switch p := cmd.Binary.(type) {
	case domain.BatchAddSymbols:
		for i := range p.Symbols {
			spec := p.Symbols[i]
			if _, exists := e.symbols[spec.SymbolID]; exists {
				e.logger.Warn("symbol already exists", zap.Int32("symbol", spec.SymbolID))
				continue
			}
			e.symbols[spec.SymbolID] = &spec
		}
	case domain.BatchAddAccounts:
		for _, uid := range slices.Sorted(maps.Keys(p.Accounts)) {
			if !e.OwnsUID(uid) {
				continue
			}
			if !e.profiles.AddEmptyUserProfile(uid) {
				e.logger.Debug("user already exists", zap.Int64("uid", uid))
				continue
			}
			balances := p.Accounts[uid]
			for _, currency := range slices.Sorted(maps.Keys(balances)) {
				e.balanceAdjustment(uid, currency, balances[currency], domain.FundingTransactionID(currency))
			}
		}
	case domain.StateHashQuery:
		e.setReport(cmd, &domain.StateHashResult{Hash: e.StateHash()})
	case domain.SingleUserReportQuery:
		if !e.OwnsUID(p.UID) {
			return
		}
		if u := e.profiles.UserProfile(p.UID); u != nil {
			e.setReport(cmd, u.report())
		} else {
			e.setReport(cmd, &domain.SingleUserReportResult{UID: p.UID, Status: domain.ResultUserNotFound})
		}
	case domain.TotalCurrencyBalanceQuery:
		e.setReport(cmd, e.totalBalanceReport())
	}
}

func (e *Engine) setReport(cmd *domain.OrderCommand, res domain.ReportResult) {
	if e.shardID < len(cmd.RiskReports) {
		cmd.RiskReports[e.shardID] = res
	}
}

// totalBalanceReport sums accounts and position profit per currency. Every
// position is valued at the mid price of its symbol so that the profit of
// one side cancels the loss of the other.
func (e *Engine) totalBalanceReport() *domain.TotalCurrencyBalanceResult {
	mid := make(map[int32]LastPrice, len(e.lastPrices))
	for s, p := range e.lastPrices {
		mid[s] = p.averaging()
	}
	res := domain.NewTotalCurrencyBalanceResult()
	e.profiles.ForEach(func(u *UserProfile) {
		for currency, v := range u.Accounts {
			res.AccountBalances[currency] += v
		}
		for symbol, p := range u.Positions {
			price, ok := mid[symbol]
			if !ok {
				price = dummyPrice
			}
			if spec := e.symbols[symbol]; spec != nil {
				res.AccountBalances[p.Currency] += p.EstimateProfit(spec, &price)
			}
			switch p.Direction {
			case domain.DirectionLong:
				res.OpenInterestLong[symbol] += p.OpenVolume
			case domain.DirectionShort:
				res.OpenInterestShort[symbol] += p.OpenVolume
			}
		}
	})
	maps.Copy(res.Fees, e.fees)
	maps.Copy(res.Adjustments, e.adjustments)
	return res
}

func (e *Engine) reset() {
	clear(e.symbols)
	e.profiles.Reset()
	clear(e.lastPrices)
	clear(e.fees)
	clear(e.adjustments)
}

func (e *Engine) persist(snapshotID int64) bool {
	if err := e.store.Store(snapshotID, store.ModuleRisk, e.shardID, snapshot.Marshal(e)); err != nil {
		e.logger.Error("persist risk state failed", zap.Int64("snapshot_id", snapshotID), zap.Error(err))
		return false
	}
	return true
}

// MarshalSnapshot writes the shard identity followed by symbols, profiles,
// the last price cache, fees and adjustments.
func (e *Engine) MarshalSnapshot(w *snapshot.Writer) {
	w.Int32(int32(e.shardID))
	w.Int64(e.shardMask)
	snapshot.WriteMap(w, e.symbols, (*snapshot.Writer).Int32, snapshot.WriteSymbolSpec)
	w.Object(e.profiles)
	snapshot.WriteMap(w, e.lastPrices, (*snapshot.Writer).Int32, func(w *snapshot.Writer, p *LastPrice) {
		w.Int64(p.Ask)
		w.Int64(p.Bid)
	})
	snapshot.WriteInt32Int64Map(w, e.fees)
	snapshot.WriteInt32Int64Map(w, e.adjustments)
}

// StateHash digests all state owned by the shard.
func (e *Engine) StateHash() uint64 {
	return xxhash.Sum64(snapshot.Marshal(e))
}
