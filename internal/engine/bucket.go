package engine

import (
	"fmt"

	"github.com/efreitasn/exchangecore/internal/domain"
)

// OrdersBucket is the FIFO queue of resting orders at one price.
type OrdersBucket interface {
	Price() int64

	// Put appends an order to the tail of the queue.
	Put(order *domain.Order)

	// Remove unlinks the order if it exists and belongs to uid, and
	// returns it. It returns nil without changes otherwise.
	Remove(orderID, uid int64) *domain.Order

	// Match fills up to volumeToCollect against the queue in FIFO order,
	// skipping orders of taker.UID. One TRADE event per fill is appended
	// to cmd.Events. Resting orders that become fully filled are unlinked
	// and passed to onFilled. Match returns the volume filled.
	Match(volumeToCollect int64, taker *domain.Order, cmd *domain.OrderCommand, onFilled func(*domain.Order)) int64

	NumOrders() int
	TotalVolume() int64
	FindOrder(orderID int64) *domain.Order
	ForEachOrder(fn func(*domain.Order))
	AllOrders() []*domain.Order

	// Validate recomputes the bucket totals and index from the queue.
	Validate() error
}

// BucketImpl selects an OrdersBucket implementation.
type BucketImpl uint8

const (
	// BucketFast is the ring buffer with an order-id index.
	BucketFast BucketImpl = iota
	// BucketNaive is the insertion-ordered map.
	BucketNaive
)

func (i BucketImpl) String() string {
	if i == BucketNaive {
		return "naive"
	}
	return "fast"
}

// ParseBucketImpl maps a configuration value to a BucketImpl.
func ParseBucketImpl(s string) (BucketImpl, error) {
	switch s {
	case "fast":
		return BucketFast, nil
	case "naive":
		return BucketNaive, nil
	}
	return 0, fmt.Errorf("unknown bucket implementation %q, must be one of: fast, naive", s)
}

// NewOrdersBucket creates an empty bucket of the given implementation.
func NewOrdersBucket(impl BucketImpl, price int64) OrdersBucket {
	if impl == BucketNaive {
		return newNaiveBucket(price)
	}
	return newFastBucket(price)
}

// tradeEvent builds the TRADE event for a fill of size against maker.
func tradeEvent(cmd *domain.OrderCommand, taker, maker *domain.Order, price, size int64, makerCompleted, takerCompleted bool) domain.MatcherTradeEvent {
	bidderHoldPrice := maker.ReserveBidPrice
	if taker.Action == domain.ActionBid {
		bidderHoldPrice = taker.ReserveBidPrice
	}
	return domain.MatcherTradeEvent{
		EventType:             domain.EventTrade,
		Symbol:                cmd.Symbol,
		ActiveOrderID:         taker.OrderID,
		ActiveOrderUID:        taker.UID,
		ActiveOrderAction:     taker.Action,
		ActiveOrderCompleted:  takerCompleted,
		MatchedOrderID:        maker.OrderID,
		MatchedOrderUID:       maker.UID,
		MatchedOrderCompleted: makerCompleted,
		Price:                 price,
		Size:                  size,
		BidderHoldPrice:       bidderHoldPrice,
		Timestamp:             cmd.Timestamp,
	}
}

func corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrStateCorruption, fmt.Sprintf(format, args...))
}
