package handler

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/service"
)

const defaultBookDepth = 10

// ReportHandler serves the read-only report queries.
type ReportHandler struct {
	exchange *service.Exchange
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(exchange *service.Exchange) *ReportHandler {
	return &ReportHandler{exchange: exchange}
}

type stateHashResponse struct {
	StateHash string `json:"state_hash"`
	Seq       int64  `json:"seq"`
}

// balancesResponse is the JSON response for GET /reports/balances. Maps
// are keyed by currency, open interest by symbol.
type balancesResponse struct {
	Accounts          map[int32]int64 `json:"accounts"`
	Orders            map[int32]int64 `json:"orders"`
	Fees              map[int32]int64 `json:"fees"`
	Adjustments       map[int32]int64 `json:"adjustments"`
	Global            map[int32]int64 `json:"global"`
	OpenInterestLong  map[int32]int64 `json:"open_interest_long"`
	OpenInterestShort map[int32]int64 `json:"open_interest_short"`
	Balanced          bool            `json:"balanced"`
}

type positionResponse struct {
	Symbol          int32  `json:"symbol"`
	Currency        int32  `json:"currency"`
	Direction       string `json:"direction"`
	OpenVolume      int64  `json:"open_volume"`
	OpenPriceSum    int64  `json:"open_price_sum"`
	Profit          int64  `json:"profit"`
	PendingSellSize int64  `json:"pending_sell_size"`
	PendingBuySize  int64  `json:"pending_buy_size"`
}

type orderResponse struct {
	OrderID         int64  `json:"order_id"`
	Symbol          int32  `json:"symbol"`
	Side            string `json:"side"`
	Price           int64  `json:"price"`
	Size            int64  `json:"size"`
	Filled          int64  `json:"filled"`
	ReserveBidPrice int64  `json:"reserve_bid_price,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

type userResponse struct {
	UID             int64              `json:"uid"`
	Accounts        map[int32]int64    `json:"accounts"`
	Positions       []positionResponse `json:"positions"`
	Orders          []orderResponse    `json:"orders"`
	CommandsCounter int64              `json:"commands_counter"`
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price      int64 `json:"price"`
	Volume     int64 `json:"volume"`
	OrderCount int64 `json:"order_count"`
}

// bookResponse is the JSON response for GET /books/{symbol}.
type bookResponse struct {
	Symbol int32               `json:"symbol"`
	Asks   []bookLevelResponse `json:"asks"`
	Bids   []bookLevelResponse `json:"bids"`
}

// StateHash handles GET /reports/state-hash.
func (h *ReportHandler) StateHash(w http.ResponseWriter, r *http.Request) {
	hash, err := h.exchange.StateHash(r.Context())
	if err != nil {
		mapExchangeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stateHashResponse{
		StateHash: fmt.Sprintf("%016x", hash),
		Seq:       h.exchange.Seq(),
	})
}

// Balances handles GET /reports/balances.
func (h *ReportHandler) Balances(w http.ResponseWriter, r *http.Request) {
	total, err := h.exchange.TotalBalanceReport(r.Context())
	if err != nil {
		mapExchangeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, balancesResponse{
		Accounts:          total.AccountBalances,
		Orders:            total.OrdersBalances,
		Fees:              total.Fees,
		Adjustments:       total.Adjustments,
		Global:            total.GlobalBalancesSum(),
		OpenInterestLong:  total.OpenInterestLong,
		OpenInterestShort: total.OpenInterestShort,
		Balanced:          total.IsGlobalBalancesAllZero(),
	})
}

// User handles GET /reports/users/{uid}.
func (h *ReportHandler) User(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "uid"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "uid must be a valid integer")
		return
	}

	report, err := h.exchange.UserReport(r.Context(), uid)
	if err != nil {
		mapExchangeError(w, err)
		return
	}
	if report.Status != domain.ResultSuccess {
		mapExchangeError(w, fmt.Errorf("%w: %d", domain.ErrUserNotFound, uid))
		return
	}

	resp := userResponse{
		UID:             report.UID,
		Accounts:        report.Accounts,
		Positions:       []positionResponse{},
		Orders:          []orderResponse{},
		CommandsCounter: report.CommandsCounter,
	}
	if resp.Accounts == nil {
		resp.Accounts = map[int32]int64{}
	}
	for _, symbol := range slices.Sorted(maps.Keys(report.Positions)) {
		p := report.Positions[symbol]
		resp.Positions = append(resp.Positions, positionResponse{
			Symbol:          p.Symbol,
			Currency:        p.Currency,
			Direction:       p.Direction.String(),
			OpenVolume:      p.OpenVolume,
			OpenPriceSum:    p.OpenPriceSum,
			Profit:          p.Profit,
			PendingSellSize: p.PendingSellSize,
			PendingBuySize:  p.PendingBuySize,
		})
	}
	for _, symbol := range slices.Sorted(maps.Keys(report.Orders)) {
		for _, o := range report.Orders[symbol] {
			resp.Orders = append(resp.Orders, orderResponse{
				OrderID:         o.OrderID,
				Symbol:          symbol,
				Side:            o.Action.String(),
				Price:           o.Price,
				Size:            o.Size,
				Filled:          o.Filled,
				ReserveBidPrice: o.ReserveBidPrice,
				Timestamp:       o.Timestamp,
			})
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Book handles GET /books/{symbol}. The optional depth query parameter
// limits the levels per side; a negative depth returns all of them.
func (h *ReportHandler) Book(w http.ResponseWriter, r *http.Request) {
	symbol, err := strconv.ParseInt(chi.URLParam(r, "symbol"), 10, 32)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "symbol must be a valid integer")
		return
	}

	depth := defaultBookDepth
	if d := r.URL.Query().Get("depth"); d != "" {
		depth, err = strconv.Atoi(d)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "depth must be a valid integer")
			return
		}
	}

	md, err := h.exchange.OrderBook(r.Context(), int32(symbol), depth)
	if err != nil {
		mapExchangeError(w, err)
		return
	}

	resp := bookResponse{
		Symbol: int32(symbol),
		Asks:   make([]bookLevelResponse, md.AskSize()),
		Bids:   make([]bookLevelResponse, md.BidSize()),
	}
	for i := range resp.Asks {
		resp.Asks[i] = bookLevelResponse{Price: md.AskPrices[i], Volume: md.AskVolumes[i], OrderCount: md.AskOrders[i]}
	}
	for i := range resp.Bids {
		resp.Bids[i] = bookLevelResponse{Price: md.BidPrices[i], Volume: md.BidVolumes[i], OrderCount: md.BidOrders[i]}
	}
	WriteJSON(w, http.StatusOK, resp)
}
