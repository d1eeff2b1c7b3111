package domain

// Order is a resting or aggressing limit order. OrderID, UID and Action
// never change; Price changes only through a move and Filled grows with
// each match.
type Order struct {
	OrderID         int64       `json:"orderId"`
	UID             int64       `json:"uid"`
	Price           int64       `json:"price"`
	Size            int64       `json:"size"`
	Filled          int64       `json:"filled"`
	ReserveBidPrice int64       `json:"reserveBidPrice"`
	Action          OrderAction `json:"action"`
	Timestamp       int64       `json:"timestamp"`
}

// Remaining returns the unfilled size.
func (o *Order) Remaining() int64 {
	return o.Size - o.Filled
}
