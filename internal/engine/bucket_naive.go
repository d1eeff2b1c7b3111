package engine

import (
	"github.com/efreitasn/exchangecore/internal/domain"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// naiveBucket keeps orders in an insertion-ordered map keyed by order id.
type naiveBucket struct {
	price       int64
	entries     *orderedmap.OrderedMap[int64, *domain.Order]
	totalVolume int64
}

func newNaiveBucket(price int64) *naiveBucket {
	return &naiveBucket{
		price:   price,
		entries: orderedmap.New[int64, *domain.Order](),
	}
}

func (b *naiveBucket) Price() int64       { return b.price }
func (b *naiveBucket) NumOrders() int     { return b.entries.Len() }
func (b *naiveBucket) TotalVolume() int64 { return b.totalVolume }

func (b *naiveBucket) Put(order *domain.Order) {
	b.entries.Set(order.OrderID, order)
	b.totalVolume += order.Remaining()
}

func (b *naiveBucket) Remove(orderID, uid int64) *domain.Order {
	order, ok := b.entries.Get(orderID)
	if !ok || order.UID != uid {
		return nil
	}
	b.entries.Delete(orderID)
	b.totalVolume -= order.Remaining()
	return order
}

func (b *naiveBucket) Match(volumeToCollect int64, taker *domain.Order, cmd *domain.OrderCommand, onFilled func(*domain.Order)) int64 {
	var filled int64
	for pair := b.entries.Oldest(); pair != nil && volumeToCollect > 0; {
		order := pair.Value
		next := pair.Next()
		if order.UID == taker.UID {
			pair = next
			continue
		}

		v := min(volumeToCollect, order.Remaining())
		order.Filled += v
		b.totalVolume -= v
		filled += v
		volumeToCollect -= v

		fullMatch := order.Filled == order.Size
		cmd.Events = append(cmd.Events, tradeEvent(cmd, taker, order, b.price, v, fullMatch, volumeToCollect == 0))
		if fullMatch {
			b.entries.Delete(order.OrderID)
			onFilled(order)
		}
		pair = next
	}
	return filled
}

func (b *naiveBucket) FindOrder(orderID int64) *domain.Order {
	order, _ := b.entries.Get(orderID)
	return order
}

func (b *naiveBucket) ForEachOrder(fn func(*domain.Order)) {
	for pair := b.entries.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Value)
	}
}

func (b *naiveBucket) AllOrders() []*domain.Order {
	orders := make([]*domain.Order, 0, b.entries.Len())
	b.ForEachOrder(func(o *domain.Order) {
		orders = append(orders, o)
	})
	return orders
}

func (b *naiveBucket) Validate() error {
	var volume int64
	for pair := b.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key != pair.Value.OrderID {
			return corruption("bucket %d: key %d holds order %d", b.price, pair.Key, pair.Value.OrderID)
		}
		if pair.Value.Remaining() <= 0 {
			return corruption("bucket %d: order %d has no remaining volume", b.price, pair.Key)
		}
		volume += pair.Value.Remaining()
	}
	if volume != b.totalVolume {
		return corruption("bucket %d: counted volume %d, totalVolume %d", b.price, volume, b.totalVolume)
	}
	return nil
}
