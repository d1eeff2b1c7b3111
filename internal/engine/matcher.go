package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/snapshot"
	"github.com/efreitasn/exchangecore/internal/store"
	"go.uber.org/zap"
)

// MatchingEngine owns the order books of the symbols assigned to one
// matching shard. A symbol belongs to the shard where symbol&mask equals
// the shard id.
type MatchingEngine struct {
	shardID   int
	shardMask int32
	impl      BucketImpl
	l2Depth   int
	books     map[int32]*OrderBook
	store     store.SnapshotStore
	logger    *zap.Logger
}

// MatchingOptions configures a matching shard.
type MatchingOptions struct {
	ShardID   int
	NumShards int
	Bucket    BucketImpl
	// L2Depth levels of market data are attached to every order command;
	// zero disables it.
	L2Depth int
}

// NewMatchingEngine creates an empty matching shard. NumShards must be a
// power of two.
func NewMatchingEngine(opts MatchingOptions, st store.SnapshotStore, logger *zap.Logger) (*MatchingEngine, error) {
	if opts.NumShards <= 0 || opts.NumShards&(opts.NumShards-1) != 0 {
		return nil, fmt.Errorf("%w: %d matching shards", domain.ErrInvalidShardCount, opts.NumShards)
	}
	if opts.ShardID < 0 || opts.ShardID >= opts.NumShards {
		return nil, fmt.Errorf("%w: shard %d of %d", domain.ErrShardMismatch, opts.ShardID, opts.NumShards)
	}
	return &MatchingEngine{
		shardID:   opts.ShardID,
		shardMask: int32(opts.NumShards - 1),
		impl:      opts.Bucket,
		l2Depth:   opts.L2Depth,
		books:     make(map[int32]*OrderBook),
		store:     st,
		logger:    logger.Named("matching").With(zap.Int("shard", opts.ShardID)),
	}, nil
}

// LoadMatchingEngine restores a shard from snapshot snapshotID.
func LoadMatchingEngine(snapshotID int64, opts MatchingOptions, st store.SnapshotStore, logger *zap.Logger) (*MatchingEngine, error) {
	me, err := NewMatchingEngine(opts, st, logger)
	if err != nil {
		return nil, err
	}
	data, err := st.Load(snapshotID, store.ModuleMatching, opts.ShardID)
	if err != nil {
		return nil, err
	}
	r := snapshot.NewReader(data)
	shardID := int(r.Int32())
	mask := r.Int32()
	n := r.Len()
	for i := 0; i < n && r.Err() == nil; i++ {
		book := ReadOrderBook(r, me.impl)
		me.books[book.spec.SymbolID] = book
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode matching shard %d of snapshot %d: %w", opts.ShardID, snapshotID, err)
	}
	if shardID != me.shardID || mask != me.shardMask {
		return nil, fmt.Errorf("%w: snapshot holds shard %d mask %d, want shard %d mask %d",
			domain.ErrShardMismatch, shardID, mask, me.shardID, me.shardMask)
	}
	return me, nil
}

func (me *MatchingEngine) symbolForThisHandler(symbol int32) bool {
	return symbol&me.shardMask == int32(me.shardID)
}

// OrderBook returns the book of symbol, or nil.
func (me *MatchingEngine) OrderBook(symbol int32) *OrderBook {
	return me.books[symbol]
}

// ProcessOrder runs the matching stage for cmd. Business outcomes are
// written to cmd; the returned error is always a state corruption that
// must stop the shard.
func (me *MatchingEngine) ProcessOrder(cmd *domain.OrderCommand) (err error) {
	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(error)
			if !ok || !errors.Is(rerr, domain.ErrStateCorruption) {
				panic(r)
			}
			me.logger.Error("order book corrupted", zap.Int64("seq", cmd.Seq), zap.Error(rerr))
			err = rerr
		}
	}()

	switch cmd.Command {
	case domain.CommandPlaceOrder, domain.CommandCancelOrder, domain.CommandMoveOrder, domain.CommandOrderBookRequest:
		if !me.symbolForThisHandler(cmd.Symbol) {
			return nil
		}
		if cmd.Command == domain.CommandPlaceOrder && cmd.ResultCode != domain.ResultValidForMatchingEngine {
			return nil
		}
		me.processMatchingCommand(cmd)

	case domain.CommandBinaryData:
		me.processBinary(cmd)
		if me.shardID == 0 {
			cmd.ResultCode = domain.ResultSuccess
		}

	case domain.CommandReset:
		me.books = make(map[int32]*OrderBook)
		if me.shardID == 0 {
			cmd.ResultCode = domain.ResultSuccess
		}

	case domain.CommandNop:
		if me.shardID == 0 {
			cmd.ResultCode = domain.ResultSuccess
		}

	case domain.CommandPersistStateMatching:
		ok := me.persist(cmd.OrderID)
		cmd.SetResultVolatile(ok, domain.ResultSuccess, domain.ResultStatePersistMatchingEngineFailed)
	}
	return nil
}

func (me *MatchingEngine) processMatchingCommand(cmd *domain.OrderCommand) {
	book, ok := me.books[cmd.Symbol]
	if !ok {
		cmd.ResultCode = domain.ResultMatchingInvalidOrderBookID
		return
	}
	cmd.ResultCode = book.ProcessCommand(cmd)
	if me.l2Depth > 0 && cmd.Command != domain.CommandOrderBookRequest && cmd.ResultCode == domain.ResultSuccess {
		cmd.MarketData = book.L2MarketData(me.l2Depth)
	}
}

func (me *MatchingEngine) processBinary(cmd *domain.OrderCommand) {
	switch p := cmd.Binary.(type) {
	case domain.BatchAddSymbols:
		for i := range p.Symbols {
			spec := p.Symbols[i]
			if !me.symbolForThisHandler(spec.SymbolID) {
				continue
			}
			if _, exists := me.books[spec.SymbolID]; exists {
				me.logger.Warn("order book already exists", zap.Int32("symbol", spec.SymbolID))
				continue
			}
			me.books[spec.SymbolID] = NewOrderBook(&spec, me.impl)
		}
	case domain.StateHashQuery:
		me.setReport(cmd, &domain.StateHashResult{Hash: me.StateHash()})
	case domain.SingleUserReportQuery:
		res := &domain.SingleUserReportResult{UID: p.UID}
		for symbol, book := range me.books {
			if orders := book.UserOrders(p.UID); len(orders) > 0 {
				if res.Orders == nil {
					res.Orders = make(map[int32][]domain.Order)
				}
				res.Orders[symbol] = orders
			}
		}
		me.setReport(cmd, res)
	case domain.TotalCurrencyBalanceQuery:
		res := domain.NewTotalCurrencyBalanceResult()
		for _, book := range me.books {
			book.AddOrdersBalances(res.OrdersBalances)
		}
		me.setReport(cmd, res)
	}
}

func (me *MatchingEngine) setReport(cmd *domain.OrderCommand, res domain.ReportResult) {
	if me.shardID < len(cmd.MatchingReports) {
		cmd.MatchingReports[me.shardID] = res
	}
}

func (me *MatchingEngine) persist(snapshotID int64) bool {
	if err := me.store.Store(snapshotID, store.ModuleMatching, me.shardID, snapshot.Marshal(me)); err != nil {
		me.logger.Error("persist matching state failed", zap.Int64("snapshot_id", snapshotID), zap.Error(err))
		return false
	}
	return true
}

func (me *MatchingEngine) sortedSymbols() []int32 {
	symbols := make([]int32, 0, len(me.books))
	for s := range me.books {
		symbols = append(symbols, s)
	}
	slices.Sort(symbols)
	return symbols
}

// MarshalSnapshot writes the shard identity followed by every book in
// ascending symbol order.
func (me *MatchingEngine) MarshalSnapshot(w *snapshot.Writer) {
	w.Int32(int32(me.shardID))
	w.Int32(me.shardMask)
	symbols := me.sortedSymbols()
	w.Len(len(symbols))
	for _, s := range symbols {
		w.Object(me.books[s])
	}
}

// StateHash digests the shard identity and every book.
func (me *MatchingEngine) StateHash() uint64 {
	w := snapshot.NewWriter()
	w.Int32(int32(me.shardID))
	w.Int32(me.shardMask)
	for _, s := range me.sortedSymbols() {
		w.Int32(s)
		w.Uint64(me.books[s].StateHash())
	}
	return xxhash.Sum64(w.Data())
}

// ValidateInternalState validates every book of the shard.
func (me *MatchingEngine) ValidateInternalState() error {
	for _, s := range me.sortedSymbols() {
		if err := me.books[s].ValidateInternalState(); err != nil {
			return err
		}
	}
	return nil
}
