package engine

import "github.com/efreitasn/exchangecore/internal/domain"

const fastBucketInitialCapacity = 8

// fastBucket keeps orders in a ring buffer of slots between head and tail.
// Removed orders leave a nil tombstone; slots are reclaimed when the head
// moves past them or when the buffer is rebuilt on overflow. The capacity
// is always a power of two.
type fastBucket struct {
	price       int64
	queue       []*domain.Order
	positions   map[int64]int // order id → slot
	head        int
	tail        int
	queueSize   int // slots in [head, tail), tombstones included
	numOrders   int
	totalVolume int64
}

func newFastBucket(price int64) *fastBucket {
	return &fastBucket{
		price:     price,
		queue:     make([]*domain.Order, fastBucketInitialCapacity),
		positions: make(map[int64]int),
	}
}

func (b *fastBucket) Price() int64       { return b.price }
func (b *fastBucket) NumOrders() int     { return b.numOrders }
func (b *fastBucket) TotalVolume() int64 { return b.totalVolume }

func (b *fastBucket) mask() int {
	return len(b.queue) - 1
}

func (b *fastBucket) Put(order *domain.Order) {
	if b.queueSize == len(b.queue) {
		b.rebuild()
	}
	b.queue[b.tail] = order
	b.positions[order.OrderID] = b.tail
	b.tail = (b.tail + 1) & b.mask()
	b.queueSize++
	b.numOrders++
	b.totalVolume += order.Remaining()
}

// rebuild copies live orders in FIFO order to the front of a new buffer.
// The capacity doubles until live orders fill at most half of it, so a
// buffer full of tombstones is compacted without growing.
func (b *fastBucket) rebuild() {
	capacity := len(b.queue)
	for b.numOrders*2 > capacity {
		capacity <<= 1
	}
	queue := make([]*domain.Order, capacity)
	n := 0
	for i, ptr := 0, b.head; i < b.queueSize; i++ {
		if o := b.queue[ptr]; o != nil {
			queue[n] = o
			b.positions[o.OrderID] = n
			n++
		}
		ptr = (ptr + 1) & b.mask()
	}
	b.queue = queue
	b.head = 0
	b.tail = n
	b.queueSize = n
}

func (b *fastBucket) Remove(orderID, uid int64) *domain.Order {
	slot, ok := b.positions[orderID]
	if !ok {
		return nil
	}
	order := b.queue[slot]
	if order.UID != uid {
		return nil
	}
	delete(b.positions, orderID)
	b.queue[slot] = nil
	b.numOrders--
	b.totalVolume -= order.Remaining()
	b.trim()
	return order
}

// trim drops tombstones at both ends of the live range.
func (b *fastBucket) trim() {
	if b.numOrders == 0 {
		b.head, b.tail, b.queueSize = 0, 0, 0
		return
	}
	for b.queue[b.head] == nil {
		b.head = (b.head + 1) & b.mask()
		b.queueSize--
	}
	for b.queue[(b.tail-1)&b.mask()] == nil {
		b.tail = (b.tail - 1) & b.mask()
		b.queueSize--
	}
}

func (b *fastBucket) Match(volumeToCollect int64, taker *domain.Order, cmd *domain.OrderCommand, onFilled func(*domain.Order)) int64 {
	var filled int64
	ptr := b.head
	ownOrderBarrier := -1
	scanned := 0

	for volumeToCollect > 0 && scanned < b.queueSize {
		order := b.queue[ptr]
		if order == nil {
			ptr = (ptr + 1) & b.mask()
			scanned++
			continue
		}
		if order.UID == taker.UID {
			// Self orders stay queued; the first one becomes the new head.
			if ownOrderBarrier == -1 {
				ownOrderBarrier = ptr
			}
			ptr = (ptr + 1) & b.mask()
			scanned++
			continue
		}

		v := min(volumeToCollect, order.Remaining())
		order.Filled += v
		b.totalVolume -= v
		filled += v
		volumeToCollect -= v

		fullMatch := order.Filled == order.Size
		cmd.Events = append(cmd.Events, tradeEvent(cmd, taker, order, b.price, v, fullMatch, volumeToCollect == 0))

		if !fullMatch {
			// Partial fill exhausts the taker; the order keeps its slot.
			break
		}
		b.queue[ptr] = nil
		delete(b.positions, order.OrderID)
		b.numOrders--
		onFilled(order)
		ptr = (ptr + 1) & b.mask()
		scanned++
	}

	newHead := ptr
	if ownOrderBarrier != -1 {
		newHead = ownOrderBarrier
	}
	if b.numOrders == 0 {
		b.head, b.tail, b.queueSize = 0, 0, 0
		return filled
	}
	b.queueSize -= (newHead - b.head) & b.mask()
	b.head = newHead
	b.trim()
	return filled
}

func (b *fastBucket) FindOrder(orderID int64) *domain.Order {
	slot, ok := b.positions[orderID]
	if !ok {
		return nil
	}
	return b.queue[slot]
}

func (b *fastBucket) ForEachOrder(fn func(*domain.Order)) {
	for i, ptr := 0, b.head; i < b.queueSize; i++ {
		if o := b.queue[ptr]; o != nil {
			fn(o)
		}
		ptr = (ptr + 1) & b.mask()
	}
}

func (b *fastBucket) AllOrders() []*domain.Order {
	orders := make([]*domain.Order, 0, b.numOrders)
	b.ForEachOrder(func(o *domain.Order) {
		orders = append(orders, o)
	})
	return orders
}

func (b *fastBucket) Validate() error {
	if len(b.queue)&b.mask() != 0 {
		return corruption("bucket %d: capacity %d is not a power of two", b.price, len(b.queue))
	}
	if b.queueSize < len(b.queue) && (b.tail-b.head)&b.mask() != b.queueSize {
		return corruption("bucket %d: queue size %d disagrees with head %d tail %d", b.price, b.queueSize, b.head, b.tail)
	}
	inRange := make(map[int]bool, b.queueSize)
	count := 0
	var volume int64
	for i, ptr := 0, b.head; i < b.queueSize; i++ {
		inRange[ptr] = true
		if o := b.queue[ptr]; o != nil {
			count++
			volume += o.Remaining()
			if slot, ok := b.positions[o.OrderID]; !ok || slot != ptr {
				return corruption("bucket %d: order %d at slot %d indexed at %d", b.price, o.OrderID, ptr, slot)
			}
			if o.Remaining() <= 0 {
				return corruption("bucket %d: order %d has no remaining volume", b.price, o.OrderID)
			}
		}
		ptr = (ptr + 1) & b.mask()
	}
	for slot, o := range b.queue {
		if o != nil && !inRange[slot] {
			return corruption("bucket %d: order %d in slot %d outside the live range", b.price, o.OrderID, slot)
		}
	}
	if count != b.numOrders || len(b.positions) != b.numOrders {
		return corruption("bucket %d: counted %d orders, index has %d, numOrders %d", b.price, count, len(b.positions), b.numOrders)
	}
	if volume != b.totalVolume {
		return corruption("bucket %d: counted volume %d, totalVolume %d", b.price, volume, b.totalVolume)
	}
	return nil
}
