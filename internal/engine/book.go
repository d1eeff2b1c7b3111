package engine

import (
	"github.com/cespare/xxhash/v2"
	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/snapshot"
	"github.com/google/btree"
)

const btreeDegree = 32

// priceLevel is a btree item: one bucket at one price.
type priceLevel struct {
	price  int64
	bucket OrdersBucket
}

// askLess orders the ask side by price ascending, so Min() is the best ask.
func askLess(a, b priceLevel) bool {
	return a.price < b.price
}

// bidLess orders the bid side by price descending, so Min() is the best bid.
func bidLess(a, b priceLevel) bool {
	return a.price > b.price
}

// OrderBook is the limit order book of one symbol. It is not safe for
// concurrent use; the owning matching shard serializes access.
type OrderBook struct {
	spec   *domain.SymbolSpec
	impl   BucketImpl
	asks   *btree.BTreeG[priceLevel]
	bids   *btree.BTreeG[priceLevel]
	orders map[int64]*domain.Order // order id → resting order
}

// NewOrderBook creates an empty book whose buckets use impl.
func NewOrderBook(spec *domain.SymbolSpec, impl BucketImpl) *OrderBook {
	return &OrderBook{
		spec:   spec,
		impl:   impl,
		asks:   btree.NewG[priceLevel](btreeDegree, askLess),
		bids:   btree.NewG[priceLevel](btreeDegree, bidLess),
		orders: make(map[int64]*domain.Order),
	}
}

// Spec returns the symbol specification of the book.
func (ob *OrderBook) Spec() *domain.SymbolSpec {
	return ob.spec
}

func (ob *OrderBook) side(action domain.OrderAction) *btree.BTreeG[priceLevel] {
	if action == domain.ActionBid {
		return ob.bids
	}
	return ob.asks
}

// ProcessCommand applies an order command and returns its result code.
// Events are appended to cmd.Events.
func (ob *OrderBook) ProcessCommand(cmd *domain.OrderCommand) domain.ResultCode {
	switch cmd.Command {
	case domain.CommandPlaceOrder:
		return ob.NewOrder(cmd)
	case domain.CommandCancelOrder:
		return ob.CancelOrder(cmd)
	case domain.CommandMoveOrder:
		return ob.MoveOrder(cmd)
	case domain.CommandOrderBookRequest:
		cmd.MarketData = ob.L2MarketData(int(cmd.Size))
		return domain.ResultSuccess
	}
	return domain.ResultUnsupportedCommand
}

// NewOrder places the order described by cmd.
func (ob *OrderBook) NewOrder(cmd *domain.OrderCommand) domain.ResultCode {
	switch cmd.OrderType {
	case domain.OrderTypeGTC:
		ob.placeGTC(cmd)
	case domain.OrderTypeIOC:
		ob.placeIOC(cmd)
	default:
		return domain.ResultMatchingUnsupportedOrderType
	}
	return domain.ResultSuccess
}

func (ob *OrderBook) placeGTC(cmd *domain.OrderCommand) {
	order := cmd.TakerOrder()
	filled := ob.tryMatchInstantly(order, cmd)
	if filled == order.Size {
		return
	}
	if _, dup := ob.orders[order.OrderID]; dup {
		// The matched part stands; the remainder cannot rest under a taken id.
		cmd.Events = append(cmd.Events, rejectEvent(cmd, order, order.Size-filled))
		return
	}
	order.Filled = filled
	ob.bucketAt(order.Action, order.Price).Put(order)
	ob.orders[order.OrderID] = order
}

func (ob *OrderBook) placeIOC(cmd *domain.OrderCommand) {
	order := cmd.TakerOrder()
	filled := ob.tryMatchInstantly(order, cmd)
	if rejected := order.Size - filled; rejected != 0 {
		cmd.Events = append(cmd.Events, rejectEvent(cmd, order, rejected))
	}
}

// tryMatchInstantly crosses taker against the opposite side while prices
// are marketable and returns the taker's total filled volume. It does not
// update taker.Filled.
func (ob *OrderBook) tryMatchInstantly(taker *domain.Order, cmd *domain.OrderCommand) int64 {
	tree := ob.side(taker.Action.Opposite())
	filled := taker.Filled
	var emptied []int64

	tree.Ascend(func(l priceLevel) bool {
		if taker.Action == domain.ActionBid && l.price > taker.Price {
			return false
		}
		if taker.Action == domain.ActionAsk && l.price < taker.Price {
			return false
		}
		filled += l.bucket.Match(taker.Size-filled, taker, cmd, ob.forget)
		if l.bucket.NumOrders() == 0 {
			emptied = append(emptied, l.price)
		}
		return filled < taker.Size
	})

	// The tree must not change during Ascend.
	for _, price := range emptied {
		tree.Delete(priceLevel{price: price})
	}
	return filled
}

func (ob *OrderBook) forget(order *domain.Order) {
	delete(ob.orders, order.OrderID)
}

func (ob *OrderBook) bucketAt(action domain.OrderAction, price int64) OrdersBucket {
	tree := ob.side(action)
	if l, ok := tree.Get(priceLevel{price: price}); ok {
		return l.bucket
	}
	bucket := NewOrdersBucket(ob.impl, price)
	tree.ReplaceOrInsert(priceLevel{price: price, bucket: bucket})
	return bucket
}

// unlink removes a resting order from its bucket and drops the bucket if
// it becomes empty. The order stays in the index.
func (ob *OrderBook) unlink(order *domain.Order) {
	tree := ob.side(order.Action)
	l, ok := tree.Get(priceLevel{price: order.Price})
	if !ok || l.bucket.Remove(order.OrderID, order.UID) == nil {
		panic(corruption("symbol %d: order %d indexed but missing from bucket %d", ob.spec.SymbolID, order.OrderID, order.Price))
	}
	if l.bucket.NumOrders() == 0 {
		tree.Delete(l)
	}
}

// CancelOrder removes the order cmd.OrderID owned by cmd.UID and emits a
// CANCEL event for its remaining size.
func (ob *OrderBook) CancelOrder(cmd *domain.OrderCommand) domain.ResultCode {
	order, ok := ob.orders[cmd.OrderID]
	if !ok || order.UID != cmd.UID {
		return domain.ResultMatchingUnknownOrderID
	}
	ob.unlink(order)
	delete(ob.orders, order.OrderID)

	// Settlement needs the side of the cancelled order.
	cmd.Action = order.Action
	cmd.Events = append(cmd.Events, domain.MatcherTradeEvent{
		EventType:            domain.EventCancel,
		Symbol:               cmd.Symbol,
		ActiveOrderID:        order.OrderID,
		ActiveOrderUID:       order.UID,
		ActiveOrderAction:    order.Action,
		ActiveOrderCompleted: true,
		Price:                order.Price,
		Size:                 order.Remaining(),
		BidderHoldPrice:      order.ReserveBidPrice,
		Timestamp:            cmd.Timestamp,
	})
	return domain.ResultSuccess
}

// MoveOrder reprices a resting order. The order loses its time priority;
// if the new price is marketable it trades as an aggressor first.
func (ob *OrderBook) MoveOrder(cmd *domain.OrderCommand) domain.ResultCode {
	order, ok := ob.orders[cmd.OrderID]
	if !ok || order.UID != cmd.UID {
		return domain.ResultMatchingUnknownOrderID
	}
	// A spot bid cannot move above the price its funds were held at, and a
	// spot ask cannot move to where its proceeds no longer cover the fee.
	if ob.spec.Type == domain.SymbolCurrencyExchangePair {
		if order.Action == domain.ActionBid && cmd.Price > order.ReserveBidPrice {
			return domain.ResultMatchingMoveFailedPriceOverRiskLimit
		}
		if proceeds, ok := domain.MulChecked(cmd.Price, ob.spec.QuoteScaleK); order.Action == domain.ActionAsk && ok && proceeds < ob.spec.TakerFee {
			return domain.ResultMatchingMoveFailedPriceOverRiskLimit
		}
	}

	ob.unlink(order)
	order.Price = cmd.Price
	cmd.Action = order.Action

	order.Filled = ob.tryMatchInstantly(order, cmd)
	if order.Filled == order.Size {
		delete(ob.orders, order.OrderID)
		return domain.ResultSuccess
	}
	ob.bucketAt(order.Action, order.Price).Put(order)
	return domain.ResultSuccess
}

func rejectEvent(cmd *domain.OrderCommand, order *domain.Order, size int64) domain.MatcherTradeEvent {
	var bidderHoldPrice int64
	if order.Action == domain.ActionBid {
		bidderHoldPrice = order.ReserveBidPrice
	}
	return domain.MatcherTradeEvent{
		EventType:            domain.EventReject,
		Symbol:               cmd.Symbol,
		ActiveOrderID:        order.OrderID,
		ActiveOrderUID:       order.UID,
		ActiveOrderAction:    order.Action,
		ActiveOrderCompleted: true,
		Price:                order.Price,
		Size:                 size,
		BidderHoldPrice:      bidderHoldPrice,
		Timestamp:            cmd.Timestamp,
	}
}

// L2MarketData aggregates up to depth price levels per side. A negative
// depth returns every level.
func (ob *OrderBook) L2MarketData(depth int) *domain.L2MarketData {
	md := &domain.L2MarketData{}
	md.AskPrices, md.AskVolumes, md.AskOrders = topLevels(ob.asks, depth)
	md.BidPrices, md.BidVolumes, md.BidOrders = topLevels(ob.bids, depth)
	return md
}

func topLevels(tree *btree.BTreeG[priceLevel], depth int) (prices, volumes, orders []int64) {
	n := tree.Len()
	if depth >= 0 && depth < n {
		n = depth
	}
	prices = make([]int64, 0, n)
	volumes = make([]int64, 0, n)
	orders = make([]int64, 0, n)
	tree.Ascend(func(l priceLevel) bool {
		if len(prices) >= n {
			return false
		}
		prices = append(prices, l.price)
		volumes = append(volumes, l.bucket.TotalVolume())
		orders = append(orders, int64(l.bucket.NumOrders()))
		return true
	})
	return prices, volumes, orders
}

// BestAsk returns the lowest ask price.
func (ob *OrderBook) BestAsk() (int64, bool) {
	l, ok := ob.asks.Min()
	return l.price, ok
}

// BestBid returns the highest bid price.
func (ob *OrderBook) BestBid() (int64, bool) {
	l, ok := ob.bids.Min()
	return l.price, ok
}

// NumOrders returns the number of resting orders.
func (ob *OrderBook) NumOrders() int {
	return len(ob.orders)
}

// FindOrder returns the resting order with the given id, or nil.
func (ob *OrderBook) FindOrder(orderID int64) *domain.Order {
	return ob.orders[orderID]
}

// ForEachOrder visits resting orders asks first, then bids, each side in
// price priority and FIFO within a price.
func (ob *OrderBook) ForEachOrder(fn func(*domain.Order)) {
	visit := func(l priceLevel) bool {
		l.bucket.ForEachOrder(fn)
		return true
	}
	ob.asks.Ascend(visit)
	ob.bids.Ascend(visit)
}

// UserOrders returns copies of the resting orders of uid.
func (ob *OrderBook) UserOrders(uid int64) []domain.Order {
	var out []domain.Order
	ob.ForEachOrder(func(o *domain.Order) {
		if o.UID == uid {
			out = append(out, *o)
		}
	})
	return out
}

// AddOrdersBalances adds the funds held by resting spot orders to balances,
// keyed by currency. Margin orders hold no account funds.
func (ob *OrderBook) AddOrdersBalances(balances map[int32]int64) {
	if ob.spec.Type != domain.SymbolCurrencyExchangePair {
		return
	}
	ob.ForEachOrder(func(o *domain.Order) {
		cur := domain.HoldCurrency(o.Action, ob.spec)
		balances[cur] += domain.HoldAmount(o.Action, o.Remaining(), o.ReserveBidPrice, ob.spec)
	})
}

// ValidateInternalState checks every bucket and the agreement between the
// buckets and the order index.
func (ob *OrderBook) ValidateInternalState() error {
	seen := 0
	var firstErr error
	check := func(action domain.OrderAction) func(priceLevel) bool {
		return func(l priceLevel) bool {
			if err := l.bucket.Validate(); err != nil {
				firstErr = err
				return false
			}
			if l.bucket.Price() != l.price || l.bucket.NumOrders() == 0 {
				firstErr = corruption("symbol %d: level %d holds bucket %d with %d orders", ob.spec.SymbolID, l.price, l.bucket.Price(), l.bucket.NumOrders())
				return false
			}
			l.bucket.ForEachOrder(func(o *domain.Order) {
				seen++
				if firstErr == nil && (o.Action != action || o.Price != l.price || ob.orders[o.OrderID] != o) {
					firstErr = corruption("symbol %d: order %d at level %d disagrees with the index", ob.spec.SymbolID, o.OrderID, l.price)
				}
			})
			return firstErr == nil
		}
	}
	ob.asks.Ascend(check(domain.ActionAsk))
	if firstErr == nil {
		ob.bids.Ascend(check(domain.ActionBid))
	}
	if firstErr != nil {
		return firstErr
	}
	if seen != len(ob.orders) {
		return corruption("symbol %d: buckets hold %d orders, index has %d", ob.spec.SymbolID, seen, len(ob.orders))
	}
	return nil
}

// MarshalSnapshot writes the spec and the resting orders level by level.
// The encoding does not depend on the bucket implementation.
func (ob *OrderBook) MarshalSnapshot(w *snapshot.Writer) {
	snapshot.WriteSymbolSpec(w, ob.spec)
	for _, tree := range []*btree.BTreeG[priceLevel]{ob.asks, ob.bids} {
		w.Len(tree.Len())
		tree.Ascend(func(l priceLevel) bool {
			w.Int64(l.price)
			w.Len(l.bucket.NumOrders())
			l.bucket.ForEachOrder(func(o *domain.Order) {
				snapshot.WriteOrder(w, o)
			})
			return true
		})
	}
}

// StateHash digests the content of the book. Both bucket implementations
// hash equal books to the same value.
func (ob *OrderBook) StateHash() uint64 {
	return xxhash.Sum64(snapshot.Marshal(ob))
}

// ReadOrderBook decodes a book written by MarshalSnapshot, building its
// buckets with impl.
func ReadOrderBook(r *snapshot.Reader, impl BucketImpl) *OrderBook {
	ob := NewOrderBook(snapshot.ReadSymbolSpec(r), impl)
	for _, action := range []domain.OrderAction{domain.ActionAsk, domain.ActionBid} {
		levels := r.Len()
		for i := 0; i < levels && r.Err() == nil; i++ {
			price := r.Int64()
			n := r.Len()
			for j := 0; j < n && r.Err() == nil; j++ {
				o := snapshot.ReadOrder(r)
				if o.Action != action || o.Price != price {
					r.Fail(corruption("symbol %d: order %d decoded at level %d", ob.spec.SymbolID, o.OrderID, price))
					return ob
				}
				ob.bucketAt(action, price).Put(o)
				ob.orders[o.OrderID] = o
			}
		}
	}
	return ob
}
