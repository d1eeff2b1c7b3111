// Package service runs the exchange pipeline: every command is sequenced,
// checked by the risk shards, matched by the matching shards and settled by
// the risk shards again.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/exchangecore/internal/config"
	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/engine"
	"github.com/efreitasn/exchangecore/internal/metrics"
	"github.com/efreitasn/exchangecore/internal/risk"
	"github.com/efreitasn/exchangecore/internal/store"
)

const (
	stageRiskPre     = "risk_pre"
	stageMatching    = "matching"
	stageRiskRelease = "risk_release"
)

// Options sizes the pipeline.
type Options struct {
	RiskShards     int
	MatchingShards int
	Bucket         engine.BucketImpl
	L2Depth        int
}

func (o Options) validate() error {
	if o.RiskShards <= 0 || o.RiskShards&(o.RiskShards-1) != 0 {
		return fmt.Errorf("%w: %d risk shards", domain.ErrInvalidShardCount, o.RiskShards)
	}
	if o.MatchingShards <= 0 || o.MatchingShards&(o.MatchingShards-1) != 0 {
		return fmt.Errorf("%w: %d matching shards", domain.ErrInvalidShardCount, o.MatchingShards)
	}
	return nil
}

// Exchange owns all shards and feeds them one command at a time.
type Exchange struct {
	mu sync.Mutex

	opts     Options
	risk     []*risk.Engine
	matching []*engine.MatchingEngine

	store   store.SnapshotStore
	catalog store.Catalog
	metrics *metrics.Collector
	logger  *zap.Logger

	instanceID uuid.UUID
	seq        int64
	haltErr    error
	now        func() time.Time
}

// NewExchange creates a pipeline with empty shards.
func NewExchange(opts Options, st store.SnapshotStore, m *metrics.Collector, logger *zap.Logger) (*Exchange, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	x := newExchange(opts, st, m, logger)
	for i := 0; i < opts.RiskShards; i++ {
		r, err := risk.NewEngine(i, opts.RiskShards, st, logger)
		if err != nil {
			return nil, err
		}
		x.risk = append(x.risk, r)
	}
	for i := 0; i < opts.MatchingShards; i++ {
		me, err := engine.NewMatchingEngine(x.matchingOptions(i), st, logger)
		if err != nil {
			return nil, err
		}
		x.matching = append(x.matching, me)
	}
	x.logger.Info("exchange created",
		zap.Int("risk_shards", opts.RiskShards),
		zap.Int("matching_shards", opts.MatchingShards),
		zap.Stringer("bucket", opts.Bucket))
	return x, nil
}

// Restore rebuilds every shard from snapshot snapshotID. When the store
// keeps a manifest for that snapshot the sequence continues from it.
func Restore(snapshotID int64, opts Options, st store.SnapshotStore, m *metrics.Collector, logger *zap.Logger) (*Exchange, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	x := newExchange(opts, st, m, logger)
	for i := 0; i < opts.RiskShards; i++ {
		r, err := risk.LoadEngine(snapshotID, i, opts.RiskShards, st, logger)
		if err != nil {
			return nil, fmt.Errorf("restore risk shard %d: %w", i, err)
		}
		x.risk = append(x.risk, r)
	}
	for i := 0; i < opts.MatchingShards; i++ {
		me, err := engine.LoadMatchingEngine(snapshotID, x.matchingOptions(i), st, logger)
		if err != nil {
			return nil, fmt.Errorf("restore matching shard %d: %w", i, err)
		}
		x.matching = append(x.matching, me)
	}
	if x.catalog != nil {
		if mf, err := x.catalog.LatestManifest(); err == nil && mf.SnapshotID == snapshotID {
			x.seq = mf.Seq
		}
	}
	x.logger.Info("exchange restored", zap.Int64("snapshot_id", snapshotID), zap.Int64("seq", x.seq))
	return x, nil
}

func newExchange(opts Options, st store.SnapshotStore, m *metrics.Collector, logger *zap.Logger) *Exchange {
	if m == nil {
		m = metrics.New()
	}
	catalog, _ := st.(store.Catalog)
	id := uuid.New()
	return &Exchange{
		opts:       opts,
		store:      st,
		catalog:    catalog,
		metrics:    m,
		logger:     logger.Named("exchange").With(zap.Stringer("instance_id", id)),
		instanceID: id,
		now:        time.Now,
	}
}

func (x *Exchange) matchingOptions(shard int) engine.MatchingOptions {
	return engine.MatchingOptions{
		ShardID:   shard,
		NumShards: x.opts.MatchingShards,
		Bucket:    x.opts.Bucket,
		L2Depth:   x.opts.L2Depth,
	}
}

// InstanceID identifies this running core in logs and manifests.
func (x *Exchange) InstanceID() uuid.UUID {
	return x.instanceID
}

// Seq returns the sequence number of the last processed command.
func (x *Exchange) Seq() int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.seq
}

// Halted returns the error that stopped the pipeline, if any.
func (x *Exchange) Halted() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.haltErr
}

// Submit processes cmds in order. Business outcomes are written to each
// command; the returned error is either a validation error for a malformed
// command, which is skipped together with everything after it, or
// ErrPipelineHalted once a shard reported corrupted state.
func (x *Exchange) Submit(ctx context.Context, cmds ...*domain.OrderCommand) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, cmd := range cmds {
		if x.haltErr != nil {
			return fmt.Errorf("%w: %w", domain.ErrPipelineHalted, x.haltErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := validateCommand(cmd); err != nil {
			return err
		}
		if err := x.process(cmd); err != nil {
			x.haltErr = err
			x.metrics.Halted()
			x.logger.Error("pipeline halted", zap.Int64("seq", cmd.Seq), zap.Stringer("command", cmd.Command), zap.Error(err))
			return fmt.Errorf("%w: %w", domain.ErrPipelineHalted, err)
		}
	}
	return nil
}

func validateCommand(cmd *domain.OrderCommand) error {
	if cmd == nil {
		return &domain.ValidationError{Message: "command is nil"}
	}
	switch cmd.Command {
	case domain.CommandPlaceOrder:
		if cmd.Size <= 0 {
			return &domain.ValidationError{Message: fmt.Sprintf("order %d: size must be positive", cmd.OrderID)}
		}
		if cmd.Price <= 0 {
			return &domain.ValidationError{Message: fmt.Sprintf("order %d: price must be positive", cmd.OrderID)}
		}
		if cmd.Action != domain.ActionAsk && cmd.Action != domain.ActionBid {
			return &domain.ValidationError{Message: fmt.Sprintf("order %d: unknown action", cmd.OrderID)}
		}
		if cmd.OrderType != domain.OrderTypeGTC && cmd.OrderType != domain.OrderTypeIOC {
			return &domain.ValidationError{Message: fmt.Sprintf("order %d: unsupported order type", cmd.OrderID)}
		}
	case domain.CommandMoveOrder:
		if cmd.Price <= 0 {
			return &domain.ValidationError{Message: fmt.Sprintf("order %d: price must be positive", cmd.OrderID)}
		}
	case domain.CommandBinaryData:
		if cmd.Binary == nil {
			return &domain.ValidationError{Message: "binary command without payload"}
		}
		if batch, ok := cmd.Binary.(domain.BatchAddSymbols); ok {
			for i := range batch.Symbols {
				if err := batch.Symbols[i].Validate(); err != nil {
					return err
				}
			}
		}
	case domain.CommandCancelOrder, domain.CommandOrderBookRequest, domain.CommandAddUser,
		domain.CommandBalanceAdjustment, domain.CommandReset, domain.CommandNop,
		domain.CommandPersistStateMatching, domain.CommandPersistStateRisk:
	default:
		return fmt.Errorf("%w: %d", domain.ErrUnknownCommand, cmd.Command)
	}
	return nil
}

// process runs one command through all three stages.
func (x *Exchange) process(cmd *domain.OrderCommand) error {
	x.seq++
	cmd.Seq = x.seq
	if cmd.Timestamp == 0 {
		cmd.Timestamp = x.now().UnixNano()
	}
	cmd.ResultCode = domain.ResultNew
	cmd.Events = nil
	cmd.MarketData = nil
	cmd.RiskReports = nil
	cmd.MatchingReports = nil
	if cmd.Command == domain.CommandBinaryData && domain.IsReportQuery(cmd.Binary) {
		cmd.RiskReports = make([]domain.ReportResult, len(x.risk))
		cmd.MatchingReports = make([]domain.ReportResult, len(x.matching))
	}

	start := time.Now()
	x.preProcess(cmd)
	x.metrics.Stage(stageRiskPre, time.Since(start))

	start = time.Now()
	if err := x.match(cmd); err != nil {
		return err
	}
	x.metrics.Stage(stageMatching, time.Since(start))

	if len(cmd.Events) > 0 || cmd.MarketData != nil {
		start = time.Now()
		if err := x.forEachRisk(func(r *risk.Engine) error { return r.HandlerRiskRelease(cmd) }); err != nil {
			return err
		}
		x.metrics.Stage(stageRiskRelease, time.Since(start))
	}

	x.metrics.Command(cmd.Command.String(), cmd.ResultCode.String(), cmd.Seq)
	for i := range cmd.Events {
		x.metrics.Event(cmd.Events[i].EventType.String())
	}
	return nil
}

func (x *Exchange) preProcess(cmd *domain.OrderCommand) {
	switch cmd.Command {
	case domain.CommandMoveOrder, domain.CommandCancelOrder, domain.CommandOrderBookRequest:
		// orders are checked by the matching shard alone
	case domain.CommandPlaceOrder, domain.CommandAddUser, domain.CommandBalanceAdjustment:
		x.risk[x.riskShardOf(cmd.UID)].PreProcessCommand(cmd)
	default:
		_ = x.forEachRisk(func(r *risk.Engine) error {
			r.PreProcessCommand(cmd)
			return nil
		})
	}
}

func (x *Exchange) match(cmd *domain.OrderCommand) error {
	switch cmd.Command {
	case domain.CommandPlaceOrder, domain.CommandCancelOrder, domain.CommandMoveOrder, domain.CommandOrderBookRequest:
		return x.matching[x.matchingShardOf(cmd.Symbol)].ProcessOrder(cmd)
	case domain.CommandAddUser, domain.CommandBalanceAdjustment, domain.CommandPersistStateRisk:
		return nil
	}
	var g errgroup.Group
	for _, me := range x.matching {
		g.Go(func() error { return me.ProcessOrder(cmd) })
	}
	return g.Wait()
}

func (x *Exchange) forEachRisk(fn func(r *risk.Engine) error) error {
	var g errgroup.Group
	for _, r := range x.risk {
		g.Go(func() error { return fn(r) })
	}
	return g.Wait()
}

func (x *Exchange) riskShardOf(uid int64) int {
	return int(uid & int64(len(x.risk)-1))
}

func (x *Exchange) matchingShardOf(symbol int32) int {
	return int(symbol & int32(len(x.matching)-1))
}

// Checkpoint stores every shard under snapshotID and records a manifest.
// Matching state is persisted first, risk state second, both at the same
// position of the command stream.
func (x *Exchange) Checkpoint(ctx context.Context, snapshotID int64) (store.Manifest, error) {
	matchingCmd := &domain.OrderCommand{Command: domain.CommandPersistStateMatching, OrderID: snapshotID}
	riskCmd := &domain.OrderCommand{Command: domain.CommandPersistStateRisk, OrderID: snapshotID}
	if err := x.Submit(ctx, matchingCmd, riskCmd); err != nil {
		return store.Manifest{}, err
	}
	ok := matchingCmd.ResultCode == domain.ResultSuccess && riskCmd.ResultCode == domain.ResultSuccess
	x.metrics.Snapshot(ok)
	if !ok {
		return store.Manifest{}, fmt.Errorf("checkpoint %d: matching %s, risk %s", snapshotID, matchingCmd.ResultCode, riskCmd.ResultCode)
	}

	mf := store.Manifest{
		SnapshotID:     snapshotID,
		InstanceID:     x.instanceID,
		Seq:            riskCmd.Seq,
		RiskShards:     len(x.risk),
		MatchingShards: len(x.matching),
		CreatedAt:      x.now().UTC(),
	}
	if x.catalog != nil {
		if err := x.catalog.SaveManifest(mf); err != nil {
			return store.Manifest{}, fmt.Errorf("checkpoint %d: %w", snapshotID, err)
		}
	}
	x.logger.Info("checkpoint stored", zap.Int64("snapshot_id", snapshotID), zap.Int64("seq", mf.Seq))
	return mf, nil
}

// LatestManifest returns the newest complete checkpoint known to the store.
func (x *Exchange) LatestManifest() (store.Manifest, error) {
	if x.catalog == nil {
		return store.Manifest{}, domain.ErrSnapshotNotFound
	}
	return x.catalog.LatestManifest()
}

func (x *Exchange) query(ctx context.Context, q domain.BinaryPayload) (*domain.OrderCommand, error) {
	cmd := &domain.OrderCommand{Command: domain.CommandBinaryData, Binary: q}
	if err := x.Submit(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// StateHash returns the digest of the whole exchange state.
func (x *Exchange) StateHash(ctx context.Context) (uint64, error) {
	cmd, err := x.query(ctx, domain.StateHashQuery{})
	if err != nil {
		return 0, err
	}
	return domain.MergeStateHash(cmd.MatchingReports, cmd.RiskReports), nil
}

// TotalBalanceReport returns the solvency aggregate over all shards.
func (x *Exchange) TotalBalanceReport(ctx context.Context) (*domain.TotalCurrencyBalanceResult, error) {
	cmd, err := x.query(ctx, domain.TotalCurrencyBalanceQuery{})
	if err != nil {
		return nil, err
	}
	return domain.MergeTotalCurrencyBalance(cmd.MatchingReports, cmd.RiskReports), nil
}

// UserReport returns the accounts, positions and resting orders of uid.
// The report status is USER_NOT_FOUND for unknown users.
func (x *Exchange) UserReport(ctx context.Context, uid int64) (*domain.SingleUserReportResult, error) {
	cmd, err := x.query(ctx, domain.SingleUserReportQuery{UID: uid})
	if err != nil {
		return nil, err
	}
	return domain.MergeSingleUserReport(uid, cmd.MatchingReports, cmd.RiskReports), nil
}

// OrderBook returns up to depth price levels per side of symbol; a
// negative depth returns every level.
func (x *Exchange) OrderBook(ctx context.Context, symbol int32, depth int) (*domain.L2MarketData, error) {
	cmd := &domain.OrderCommand{Command: domain.CommandOrderBookRequest, Symbol: symbol, Size: int64(depth)}
	if err := x.Submit(ctx, cmd); err != nil {
		return nil, err
	}
	if cmd.ResultCode != domain.ResultSuccess {
		return nil, fmt.Errorf("%w: %d", domain.ErrSymbolNotFound, symbol)
	}
	return cmd.MarketData, nil
}

// Bootstrap registers the symbols and funds the accounts of b.
func (x *Exchange) Bootstrap(ctx context.Context, b *config.Bootstrap) error {
	cmds, err := b.Commands()
	if err != nil {
		return err
	}
	if err := x.Submit(ctx, cmds...); err != nil {
		return err
	}
	var errs []error
	for _, cmd := range cmds {
		if cmd.ResultCode != domain.ResultSuccess {
			errs = append(errs, fmt.Errorf("bootstrap %T: %s", cmd.Binary, cmd.ResultCode))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	x.logger.Info("bootstrap applied", zap.Int("symbols", len(b.Symbols)), zap.Int("accounts", len(b.Accounts)))
	return nil
}
