package domain

// EventType classifies a matcher event.
type EventType uint8

const (
	EventTrade EventType = iota
	EventCancel
	EventReject
	// EventBinary is part of the event vocabulary of downstream consumers.
	// Report results travel on OrderCommand instead, so the core never emits it.
	EventBinary
)

func (t EventType) String() string {
	switch t {
	case EventTrade:
		return "TRADE"
	case EventCancel:
		return "CANCEL"
	case EventReject:
		return "REJECTION"
	case EventBinary:
		return "BINARY_EVENT"
	}
	return "UNKNOWN"
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// MatcherTradeEvent is one outcome of matching a command. The events of a
// command are kept in emission order on OrderCommand.Events.
//
// For TRADE the active side is the aggressor and the matched side the
// resting order. For CANCEL and REJECTION only the active side is set and
// Size is the released volume.
type MatcherTradeEvent struct {
	EventType             EventType   `json:"eventType"`
	Symbol                int32       `json:"symbol"`
	ActiveOrderID         int64       `json:"activeOrderId"`
	ActiveOrderUID        int64       `json:"activeOrderUid"`
	ActiveOrderAction     OrderAction `json:"activeOrderAction"`
	ActiveOrderCompleted  bool        `json:"activeOrderCompleted"`
	MatchedOrderID        int64       `json:"matchedOrderId,omitempty"`
	MatchedOrderUID       int64       `json:"matchedOrderUid,omitempty"`
	MatchedOrderCompleted bool        `json:"matchedOrderCompleted"`
	Price                 int64       `json:"price"`
	Size                  int64       `json:"size"`
	// BidderHoldPrice is the reserve price of whichever side is the bid.
	BidderHoldPrice int64 `json:"bidderHoldPrice"`
	Timestamp       int64 `json:"timestamp"`
}

// L2MarketData is an aggregated depth snapshot: asks ascending, bids
// descending, one entry per price level.
type L2MarketData struct {
	AskPrices  []int64 `json:"askPrices"`
	AskVolumes []int64 `json:"askVolumes"`
	AskOrders  []int64 `json:"askOrders"`
	BidPrices  []int64 `json:"bidPrices"`
	BidVolumes []int64 `json:"bidVolumes"`
	BidOrders  []int64 `json:"bidOrders"`
}

// AskSize returns the number of ask levels.
func (m *L2MarketData) AskSize() int { return len(m.AskPrices) }

// BidSize returns the number of bid levels.
func (m *L2MarketData) BidSize() int { return len(m.BidPrices) }
