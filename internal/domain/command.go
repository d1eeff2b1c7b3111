package domain

import (
	"fmt"
	"sync/atomic"
)

// CommandType enumerates the commands accepted by the core.
type CommandType uint8

const (
	CommandPlaceOrder CommandType = iota + 1
	CommandCancelOrder
	CommandMoveOrder
	CommandOrderBookRequest
	CommandAddUser
	CommandBalanceAdjustment
	CommandBinaryData
	CommandReset
	CommandNop
	CommandPersistStateMatching
	CommandPersistStateRisk
)

var commandTypeNames = map[CommandType]string{
	CommandPlaceOrder:           "PLACE_ORDER",
	CommandCancelOrder:          "CANCEL_ORDER",
	CommandMoveOrder:            "MOVE_ORDER",
	CommandOrderBookRequest:     "ORDER_BOOK_REQUEST",
	CommandAddUser:              "ADD_USER",
	CommandBalanceAdjustment:    "BALANCE_ADJUSTMENT",
	CommandBinaryData:           "BINARY_DATA",
	CommandReset:                "RESET",
	CommandNop:                  "NOP",
	CommandPersistStateMatching: "PERSIST_STATE_MATCHING",
	CommandPersistStateRisk:     "PERSIST_STATE_RISK",
}

func (c CommandType) String() string {
	if name, ok := commandTypeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CommandType(%d)", uint8(c))
}

func (c CommandType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CommandType) UnmarshalText(text []byte) error {
	for k, name := range commandTypeNames {
		if name == string(text) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, string(text))
}

// OrderAction is the side of an order.
type OrderAction uint8

const (
	ActionAsk OrderAction = iota
	ActionBid
)

// Opposite returns the other side.
func (a OrderAction) Opposite() OrderAction {
	if a == ActionAsk {
		return ActionBid
	}
	return ActionAsk
}

func (a OrderAction) String() string {
	if a == ActionBid {
		return "BID"
	}
	return "ASK"
}

func (a OrderAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *OrderAction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "BID":
		*a = ActionBid
	case "ASK":
		*a = ActionAsk
	default:
		return fmt.Errorf("unknown order action %q", string(text))
	}
	return nil
}

// OrderType selects what happens to the unfilled remainder of a placed order.
type OrderType uint8

const (
	// OrderTypeGTC rests the remainder in the book.
	OrderTypeGTC OrderType = iota
	// OrderTypeIOC rejects the remainder.
	OrderTypeIOC
)

func (t OrderType) String() string {
	if t == OrderTypeIOC {
		return "IOC"
	}
	return "GTC"
}

func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "GTC":
		*t = OrderTypeGTC
	case "IOC":
		*t = OrderTypeIOC
	default:
		return fmt.Errorf("unknown order type %q", string(text))
	}
	return nil
}

// OrderCommand is one entry of the ordered command stream. Each pipeline
// stage reads the request fields and writes its outcome back.
//
// Field reuse follows the command type: BALANCE_ADJUSTMENT carries the
// currency in Symbol, the amount in Price and the transaction id in OrderID;
// PERSIST_STATE_* carry the snapshot id in OrderID; ORDER_BOOK_REQUEST
// carries the depth in Size.
type OrderCommand struct {
	Command         CommandType `json:"command"`
	OrderID         int64       `json:"orderId,omitempty"`
	UID             int64       `json:"uid,omitempty"`
	Symbol          int32       `json:"symbol,omitempty"`
	Price           int64       `json:"price,omitempty"`
	Size            int64       `json:"size,omitempty"`
	ReserveBidPrice int64       `json:"reserveBidPrice,omitempty"`
	Action          OrderAction `json:"action"`
	OrderType       OrderType   `json:"orderType"`
	Timestamp       int64       `json:"timestamp,omitempty"`
	Seq             int64       `json:"seq,omitempty"`

	ResultCode ResultCode          `json:"resultCode"`
	Events     []MatcherTradeEvent `json:"events,omitempty"`
	MarketData *L2MarketData       `json:"marketData,omitempty"`

	Binary          BinaryPayload  `json:"-"`
	RiskReports     []ReportResult `json:"-"`
	MatchingReports []ReportResult `json:"-"`
}

// SetResultVolatile records one shard's outcome of a command that every
// shard executes concurrently. Once any shard reports failure the failure
// code sticks.
func (c *OrderCommand) SetResultVolatile(ok bool, success, failure ResultCode) {
	want := success
	if !ok {
		want = failure
	}
	ptr := (*int32)(&c.ResultCode)
	for {
		cur := atomic.LoadInt32(ptr)
		if ResultCode(cur) == failure {
			return
		}
		if atomic.CompareAndSwapInt32(ptr, cur, int32(want)) {
			return
		}
	}
}

// TakerOrder builds the aggressor order described by a PLACE command.
func (c *OrderCommand) TakerOrder() *Order {
	return &Order{
		OrderID:         c.OrderID,
		UID:             c.UID,
		Price:           c.Price,
		Size:            c.Size,
		ReserveBidPrice: c.ReserveBidPrice,
		Action:          c.Action,
		Timestamp:       c.Timestamp,
	}
}
