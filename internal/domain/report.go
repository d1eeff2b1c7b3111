package domain

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// ReportResult is one shard's answer to a report query.
type ReportResult interface {
	reportResult()
}

// StateHashResult carries a shard digest.
type StateHashResult struct {
	Hash uint64
}

// PositionDirection is the side of a margin position.
type PositionDirection int8

const (
	DirectionEmpty PositionDirection = 0
	DirectionLong  PositionDirection = 1
	DirectionShort PositionDirection = -1
)

// Multiplier returns 1 for long, -1 for short and 0 for empty.
func (d PositionDirection) Multiplier() int64 {
	return int64(d)
}

// DirectionOf returns the direction an order of the given side opens.
func DirectionOf(action OrderAction) PositionDirection {
	if action == ActionBid {
		return DirectionLong
	}
	return DirectionShort
}

func (d PositionDirection) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	}
	return "EMPTY"
}

func (d PositionDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// PositionView is a read-only copy of a margin position.
type PositionView struct {
	Symbol          int32             `json:"symbol"`
	Currency        int32             `json:"currency"`
	Direction       PositionDirection `json:"direction"`
	OpenVolume      int64             `json:"openVolume"`
	OpenPriceSum    int64             `json:"openPriceSum"`
	Profit          int64             `json:"profit"`
	PendingSellSize int64             `json:"pendingSellSize"`
	PendingBuySize  int64             `json:"pendingBuySize"`
}

// SingleUserReportResult is one shard's view of a user. Risk shards fill the
// profile part, matching shards fill Orders.
type SingleUserReportResult struct {
	UID             int64                  `json:"uid"`
	Status          ResultCode             `json:"status"`
	Accounts        map[int32]int64        `json:"accounts,omitempty"`
	Positions       map[int32]PositionView `json:"positions,omitempty"`
	CommandsCounter int64                  `json:"commandsCounter"`
	Orders          map[int32][]Order      `json:"orders,omitempty"`
}

// TotalCurrencyBalanceResult aggregates balances per currency and open
// interest per symbol.
type TotalCurrencyBalanceResult struct {
	AccountBalances   map[int32]int64 `json:"accountBalances"`
	Fees              map[int32]int64 `json:"fees"`
	Adjustments       map[int32]int64 `json:"adjustments"`
	OrdersBalances    map[int32]int64 `json:"ordersBalances"`
	OpenInterestLong  map[int32]int64 `json:"openInterestLong"`
	OpenInterestShort map[int32]int64 `json:"openInterestShort"`
}

func (*StateHashResult) reportResult()            {}
func (*SingleUserReportResult) reportResult()     {}
func (*TotalCurrencyBalanceResult) reportResult() {}

// NewTotalCurrencyBalanceResult returns a result with all maps allocated.
func NewTotalCurrencyBalanceResult() *TotalCurrencyBalanceResult {
	return &TotalCurrencyBalanceResult{
		AccountBalances:   make(map[int32]int64),
		Fees:              make(map[int32]int64),
		Adjustments:       make(map[int32]int64),
		OrdersBalances:    make(map[int32]int64),
		OpenInterestLong:  make(map[int32]int64),
		OpenInterestShort: make(map[int32]int64),
	}
}

// GlobalBalancesSum returns accounts + orders + fees + adjustments per
// currency.
func (r *TotalCurrencyBalanceResult) GlobalBalancesSum() map[int32]int64 {
	sum := make(map[int32]int64)
	for _, m := range []map[int32]int64{r.AccountBalances, r.OrdersBalances, r.Fees, r.Adjustments} {
		for cur, v := range m {
			sum[cur] += v
		}
	}
	return sum
}

// IsGlobalBalancesAllZero reports whether every currency nets to zero, which
// holds whenever no funds were created or destroyed inside the core.
func (r *TotalCurrencyBalanceResult) IsGlobalBalancesAllZero() bool {
	for _, v := range r.GlobalBalancesSum() {
		if v != 0 {
			return false
		}
	}
	return true
}

// MergeStateHash combines the per-shard digests of the matching shards and
// then the risk shards into one digest. The order of shards is significant.
func MergeStateHash(matching, risk []ReportResult) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, part := range [][]ReportResult{matching, risk} {
		binary.BigEndian.PutUint64(buf[:], uint64(len(part)))
		_, _ = d.Write(buf[:])
		for _, r := range part {
			var h uint64
			if sh, ok := r.(*StateHashResult); ok && sh != nil {
				h = sh.Hash
			}
			binary.BigEndian.PutUint64(buf[:], h)
			_, _ = d.Write(buf[:])
		}
	}
	return d.Sum64()
}

// MergeSingleUserReport joins the profile from the owning risk shard with
// the orders found on every matching shard.
func MergeSingleUserReport(uid int64, matching, risk []ReportResult) *SingleUserReportResult {
	out := &SingleUserReportResult{UID: uid, Status: ResultUserNotFound}
	for _, r := range risk {
		ur, ok := r.(*SingleUserReportResult)
		if !ok || ur == nil || ur.Status != ResultSuccess {
			continue
		}
		out.Status = ResultSuccess
		out.Accounts = ur.Accounts
		out.Positions = ur.Positions
		out.CommandsCounter = ur.CommandsCounter
	}
	for _, r := range matching {
		ur, ok := r.(*SingleUserReportResult)
		if !ok || ur == nil {
			continue
		}
		for symbol, orders := range ur.Orders {
			if out.Orders == nil {
				out.Orders = make(map[int32][]Order)
			}
			out.Orders[symbol] = append(out.Orders[symbol], orders...)
		}
	}
	return out
}

// MergeTotalCurrencyBalance sums the per-shard aggregates.
func MergeTotalCurrencyBalance(parts ...[]ReportResult) *TotalCurrencyBalanceResult {
	out := NewTotalCurrencyBalanceResult()
	for _, part := range parts {
		for _, r := range part {
			tr, ok := r.(*TotalCurrencyBalanceResult)
			if !ok || tr == nil {
				continue
			}
			addAll(out.AccountBalances, tr.AccountBalances)
			addAll(out.Fees, tr.Fees)
			addAll(out.Adjustments, tr.Adjustments)
			addAll(out.OrdersBalances, tr.OrdersBalances)
			addAll(out.OpenInterestLong, tr.OpenInterestLong)
			addAll(out.OpenInterestShort, tr.OpenInterestShort)
		}
	}
	return out
}

func addAll(dst, src map[int32]int64) {
	for k, v := range src {
		dst[k] += v
	}
}
