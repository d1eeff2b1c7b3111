package engine

import (
	"testing"

	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/snapshot"
	"github.com/google/go-cmp/cmp"
)

const maxPrice int64 = 400000

var futuresSpec = &domain.SymbolSpec{
	SymbolID:      200,
	Type:          domain.SymbolFuturesContract,
	QuoteCurrency: 2,
	TakerFee:      2,
	MakerFee:      1,
	MarginBuy:     2200,
	MarginSell:    2100,
}

var spotSpec = &domain.SymbolSpec{
	SymbolID:      100,
	Type:          domain.SymbolCurrencyExchangePair,
	BaseCurrency:  1,
	QuoteCurrency: 2,
	BaseScaleK:    100,
	QuoteScaleK:   10,
	TakerFee:      3,
	MakerFee:      1,
}

func placeCmd(id, uid int64, action domain.OrderAction, orderType domain.OrderType, price, size int64) *domain.OrderCommand {
	return &domain.OrderCommand{
		Command:         domain.CommandPlaceOrder,
		OrderID:         id,
		UID:             uid,
		Symbol:          futuresSpec.SymbolID,
		Price:           price,
		ReserveBidPrice: price,
		Size:            size,
		Action:          action,
		OrderType:       orderType,
	}
}

func mustProcess(t *testing.T, ob *OrderBook, cmd *domain.OrderCommand, want domain.ResultCode) {
	t.Helper()
	if got := ob.ProcessCommand(cmd); got != want {
		t.Fatalf("%s order %d: result %s, want %s", cmd.Command, cmd.OrderID, got, want)
	}
	if err := ob.ValidateInternalState(); err != nil {
		t.Fatalf("after %s order %d: %v", cmd.Command, cmd.OrderID, err)
	}
}

// newFixtureBook builds a book with four ask levels and five bid levels,
// every order owned by uid1.
func newFixtureBook(t *testing.T, impl BucketImpl) *OrderBook {
	t.Helper()
	ob := NewOrderBook(futuresSpec, impl)
	for _, c := range []*domain.OrderCommand{
		placeCmd(1, uid1, domain.ActionAsk, domain.OrderTypeGTC, 81600, 100),
		placeCmd(2, uid1, domain.ActionAsk, domain.OrderTypeGTC, 81599, 50),
		placeCmd(3, uid1, domain.ActionAsk, domain.OrderTypeGTC, 81599, 25),
		placeCmd(4, uid1, domain.ActionBid, domain.OrderTypeGTC, 81593, 40),
		placeCmd(5, uid1, domain.ActionBid, domain.OrderTypeGTC, 81590, 20),
		placeCmd(6, uid1, domain.ActionBid, domain.OrderTypeGTC, 81590, 1),
		placeCmd(7, uid1, domain.ActionBid, domain.OrderTypeGTC, 81200, 20),
		placeCmd(8, uid1, domain.ActionAsk, domain.OrderTypeGTC, 201000, 28),
		placeCmd(9, uid1, domain.ActionAsk, domain.OrderTypeGTC, 201000, 32),
		placeCmd(10, uid1, domain.ActionAsk, domain.OrderTypeGTC, 200954, 10),
		placeCmd(11, uid1, domain.ActionBid, domain.OrderTypeGTC, 10000, 12),
		placeCmd(12, uid1, domain.ActionBid, domain.OrderTypeGTC, 10000, 1),
		placeCmd(13, uid1, domain.ActionBid, domain.OrderTypeGTC, 9136, 2),
	} {
		mustProcess(t, ob, c, domain.ResultSuccess)
		if len(c.Events) != 0 {
			t.Fatalf("fixture order %d traded: %+v", c.OrderID, c.Events)
		}
	}
	return ob
}

func assertL2(t *testing.T, ob *OrderBook, askPrices, askVolumes, bidPrices, bidVolumes []int64) {
	t.Helper()
	md := ob.L2MarketData(-1)
	if diff := cmp.Diff(askPrices, md.AskPrices); diff != "" {
		t.Errorf("ask prices (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(askVolumes, md.AskVolumes); diff != "" {
		t.Errorf("ask volumes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(bidPrices, md.BidPrices); diff != "" {
		t.Errorf("bid prices (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(bidVolumes, md.BidVolumes); diff != "" {
		t.Errorf("bid volumes (-want +got):\n%s", diff)
	}
}

func TestOrderBook_FixtureL2(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		assertL2(t, ob,
			[]int64{81599, 81600, 200954, 201000}, []int64{75, 100, 10, 60},
			[]int64{81593, 81590, 81200, 10000, 9136}, []int64{40, 21, 20, 13, 2})

		md := ob.L2MarketData(2)
		if len(md.AskPrices) != 2 || len(md.BidPrices) != 2 {
			t.Errorf("depth 2 returned %d asks and %d bids", len(md.AskPrices), len(md.BidPrices))
		}
		if md.AskOrders[0] != 2 || md.BidOrders[1] != 2 {
			t.Errorf("unexpected order counts: asks %v bids %v", md.AskOrders, md.BidOrders)
		}
		if best, _ := ob.BestAsk(); best != 81599 {
			t.Errorf("BestAsk() = %d, want 81599", best)
		}
		if best, _ := ob.BestBid(); best != 81593 {
			t.Errorf("BestBid() = %d, want 81593", best)
		}
	})
}

func TestOrderBook_IOCSweepsAndRejectsRemainder(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		cmd := placeCmd(100, uid2, domain.ActionBid, domain.OrderTypeIOC, maxPrice, 270)
		mustProcess(t, ob, cmd, domain.ResultSuccess)

		type fill struct{ matched, price, size int64 }
		want := []fill{{2, 81599, 50}, {3, 81599, 25}, {1, 81600, 100}, {10, 200954, 10}, {8, 201000, 28}, {9, 201000, 32}}
		if len(cmd.Events) != len(want)+1 {
			t.Fatalf("expected %d events, got %d: %+v", len(want)+1, len(cmd.Events), cmd.Events)
		}
		for i, w := range want {
			ev := cmd.Events[i]
			if ev.EventType != domain.EventTrade || ev.MatchedOrderID != w.matched || ev.Price != w.price || ev.Size != w.size {
				t.Errorf("event %d = %+v, want %+v", i, ev, w)
			}
			if !ev.MatchedOrderCompleted {
				t.Errorf("event %d: resting order should be completed", i)
			}
		}
		rej := cmd.Events[len(want)]
		if rej.EventType != domain.EventReject || rej.Size != 25 || rej.ActiveOrderUID != uid2 {
			t.Errorf("unexpected rejection %+v", rej)
		}
		assertL2(t, ob,
			[]int64{}, []int64{},
			[]int64{81593, 81590, 81200, 10000, 9136}, []int64{40, 21, 20, 13, 2})
		if ob.FindOrder(100) != nil {
			t.Error("IOC remainder must not rest")
		}
	})
}

func TestOrderBook_IOCFullyFilledHasNoRejection(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		cmd := placeCmd(100, uid2, domain.ActionAsk, domain.OrderTypeIOC, 81590, 50)
		mustProcess(t, ob, cmd, domain.ResultSuccess)
		if len(cmd.Events) != 2 {
			t.Fatalf("expected 2 trades, got %+v", cmd.Events)
		}
		last := cmd.Events[1]
		if last.MatchedOrderID != 5 || last.Size != 10 || last.MatchedOrderCompleted || !last.ActiveOrderCompleted {
			t.Errorf("unexpected last fill %+v", last)
		}
		assertL2(t, ob,
			[]int64{81599, 81600, 200954, 201000}, []int64{75, 100, 10, 60},
			[]int64{81590, 81200, 10000, 9136}, []int64{11, 20, 13, 2})
	})
}

func TestOrderBook_GTCRestsRemainder(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		cmd := placeCmd(100, uid2, domain.ActionAsk, domain.OrderTypeGTC, 81590, 100)
		mustProcess(t, ob, cmd, domain.ResultSuccess)

		if len(cmd.Events) != 3 {
			t.Fatalf("expected 3 trades, got %+v", cmd.Events)
		}
		rest := ob.FindOrder(100)
		if rest == nil || rest.Filled != 61 || rest.Price != 81590 {
			t.Fatalf("remainder not resting as expected: %+v", rest)
		}
		assertL2(t, ob,
			[]int64{81590, 81599, 81600, 200954, 201000}, []int64{39, 75, 100, 10, 60},
			[]int64{81200, 10000, 9136}, []int64{20, 13, 2})
	})
}

func TestOrderBook_Cancel(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)

		cmd := &domain.OrderCommand{Command: domain.CommandCancelOrder, OrderID: 5, UID: uid1, Symbol: futuresSpec.SymbolID}
		mustProcess(t, ob, cmd, domain.ResultSuccess)
		if len(cmd.Events) != 1 {
			t.Fatalf("expected one CANCEL event, got %+v", cmd.Events)
		}
		ev := cmd.Events[0]
		if ev.EventType != domain.EventCancel || ev.Size != 20 || ev.ActiveOrderAction != domain.ActionBid || ev.Price != 81590 {
			t.Errorf("unexpected cancel event %+v", ev)
		}
		if cmd.Action != domain.ActionBid {
			t.Errorf("cmd.Action = %s, want BID", cmd.Action)
		}
		assertL2(t, ob,
			[]int64{81599, 81600, 200954, 201000}, []int64{75, 100, 10, 60},
			[]int64{81593, 81590, 81200, 10000, 9136}, []int64{40, 1, 20, 13, 2})

		// Cancelling the last order of a level removes the level.
		mustProcess(t, ob, &domain.OrderCommand{Command: domain.CommandCancelOrder, OrderID: 10, UID: uid1}, domain.ResultSuccess)
		assertL2(t, ob,
			[]int64{81599, 81600, 201000}, []int64{75, 100, 60},
			[]int64{81593, 81590, 81200, 10000, 9136}, []int64{40, 1, 20, 13, 2})
	})
}

func TestOrderBook_CancelUnknownOrForeign(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		before := ob.StateHash()

		mustProcess(t, ob, &domain.OrderCommand{Command: domain.CommandCancelOrder, OrderID: 5291, UID: uid1}, domain.ResultMatchingUnknownOrderID)
		mustProcess(t, ob, &domain.OrderCommand{Command: domain.CommandCancelOrder, OrderID: 5, UID: uid2}, domain.ResultMatchingUnknownOrderID)
		mustProcess(t, ob, &domain.OrderCommand{Command: domain.CommandMoveOrder, OrderID: 5, UID: uid2, Price: 1}, domain.ResultMatchingUnknownOrderID)

		if ob.StateHash() != before {
			t.Error("rejected commands must not change the book")
		}
	})
}

func TestOrderBook_MoveToExistingLevel(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		cmd := &domain.OrderCommand{Command: domain.CommandMoveOrder, OrderID: 7, UID: uid1, Price: 81590}
		mustProcess(t, ob, cmd, domain.ResultSuccess)
		if len(cmd.Events) != 0 {
			t.Fatalf("move without crossing emitted %+v", cmd.Events)
		}
		assertL2(t, ob,
			[]int64{81599, 81600, 200954, 201000}, []int64{75, 100, 10, 60},
			[]int64{81593, 81590, 10000, 9136}, []int64{40, 41, 13, 2})

		// The moved order joins the tail of its new level.
		var ids []int64
		ob.ForEachOrder(func(o *domain.Order) {
			if o.Price == 81590 {
				ids = append(ids, o.OrderID)
			}
		})
		if diff := cmp.Diff([]int64{5, 6, 7}, ids); diff != "" {
			t.Errorf("FIFO at 81590 (-want +got):\n%s", diff)
		}
	})
}

func TestOrderBook_MoveIntoMarketableZone(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		// A different owner so the crossing is not a self trade.
		mustProcess(t, ob, placeCmd(50, uid2, domain.ActionBid, domain.OrderTypeGTC, 81000, 40), domain.ResultSuccess)

		cmd := &domain.OrderCommand{Command: domain.CommandMoveOrder, OrderID: 50, UID: uid2, Price: 81600}
		mustProcess(t, ob, cmd, domain.ResultSuccess)

		if len(cmd.Events) != 1 {
			t.Fatalf("expected 1 trade, got %+v", cmd.Events)
		}
		ev := cmd.Events[0]
		if ev.MatchedOrderID != 2 || ev.Size != 40 || ev.Price != 81599 || !ev.ActiveOrderCompleted || ev.MatchedOrderCompleted {
			t.Errorf("unexpected trade %+v", ev)
		}
		if ob.FindOrder(50) != nil {
			t.Error("fully filled moved order must leave the book")
		}
		assertL2(t, ob,
			[]int64{81599, 81600, 200954, 201000}, []int64{35, 100, 10, 60},
			[]int64{81593, 81590, 81200, 10000, 9136}, []int64{40, 21, 20, 13, 2})
	})
}

func TestOrderBook_SelfOrdersDoNotTrade(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		cmd := placeCmd(60, uid1, domain.ActionBid, domain.OrderTypeIOC, 81600, 10)
		mustProcess(t, ob, cmd, domain.ResultSuccess)
		for _, ev := range cmd.Events {
			if ev.EventType == domain.EventTrade {
				t.Fatalf("self trade emitted: %+v", ev)
			}
		}
		if len(cmd.Events) != 1 || cmd.Events[0].Size != 10 {
			t.Errorf("expected a full rejection, got %+v", cmd.Events)
		}
	})
}

func TestOrderBook_DuplicateOrderIDRejected(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		cmd := placeCmd(1, uid2, domain.ActionBid, domain.OrderTypeGTC, 1000, 5)
		mustProcess(t, ob, cmd, domain.ResultSuccess)
		if len(cmd.Events) != 1 || cmd.Events[0].EventType != domain.EventReject || cmd.Events[0].Size != 5 {
			t.Fatalf("expected rejection of the duplicate id, got %+v", cmd.Events)
		}
		if o := ob.FindOrder(1); o == nil || o.UID != uid1 {
			t.Error("original order 1 must stay")
		}
	})
}

func TestOrderBook_UnsupportedOrderType(t *testing.T) {
	ob := NewOrderBook(futuresSpec, BucketFast)
	cmd := placeCmd(1, uid1, domain.ActionBid, domain.OrderType(9), 1000, 5)
	mustProcess(t, ob, cmd, domain.ResultMatchingUnsupportedOrderType)
}

func TestOrderBook_SpotMoveAboveReserveFails(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := NewOrderBook(spotSpec, impl)
		place := &domain.OrderCommand{
			Command: domain.CommandPlaceOrder, OrderID: 1, UID: uid1, Price: 1000, ReserveBidPrice: 1100,
			Size: 5, Action: domain.ActionBid, OrderType: domain.OrderTypeGTC,
		}
		mustProcess(t, ob, place, domain.ResultSuccess)

		mustProcess(t, ob, &domain.OrderCommand{Command: domain.CommandMoveOrder, OrderID: 1, UID: uid1, Price: 1101},
			domain.ResultMatchingMoveFailedPriceOverRiskLimit)
		if o := ob.FindOrder(1); o.Price != 1000 {
			t.Errorf("order price = %d after failed move, want 1000", o.Price)
		}
		mustProcess(t, ob, &domain.OrderCommand{Command: domain.CommandMoveOrder, OrderID: 1, UID: uid1, Price: 1100},
			domain.ResultSuccess)
	})
}

func TestOrderBook_SpotAskMoveBelowFeeFails(t *testing.T) {
	feeSpec := *spotSpec
	feeSpec.QuoteScaleK = 1
	feeSpec.TakerFee = 50
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := NewOrderBook(&feeSpec, impl)
		mustProcess(t, ob, &domain.OrderCommand{
			Command: domain.CommandPlaceOrder, OrderID: 1, UID: uid1, Price: 100,
			Size: 5, Action: domain.ActionAsk, OrderType: domain.OrderTypeGTC,
		}, domain.ResultSuccess)

		mustProcess(t, ob, &domain.OrderCommand{Command: domain.CommandMoveOrder, OrderID: 1, UID: uid1, Price: 49},
			domain.ResultMatchingMoveFailedPriceOverRiskLimit)
		if o := ob.FindOrder(1); o.Price != 100 {
			t.Errorf("order price = %d after failed move, want 100", o.Price)
		}
		mustProcess(t, ob, &domain.OrderCommand{Command: domain.CommandMoveOrder, OrderID: 1, UID: uid1, Price: 50},
			domain.ResultSuccess)
	})
}

func TestOrderBook_OrdersBalances(t *testing.T) {
	ob := NewOrderBook(spotSpec, BucketFast)
	mustProcess(t, ob, &domain.OrderCommand{
		Command: domain.CommandPlaceOrder, OrderID: 1, UID: uid1, Price: 1000, ReserveBidPrice: 1100,
		Size: 5, Action: domain.ActionBid, OrderType: domain.OrderTypeGTC,
	}, domain.ResultSuccess)
	mustProcess(t, ob, &domain.OrderCommand{
		Command: domain.CommandPlaceOrder, OrderID: 2, UID: uid2, Price: 1200,
		Size: 7, Action: domain.ActionAsk, OrderType: domain.OrderTypeGTC,
	}, domain.ResultSuccess)

	balances := make(map[int32]int64)
	ob.AddOrdersBalances(balances)
	want := map[int32]int64{
		1: 7 * 100,
		2: 5 * (1100*10 + 3),
	}
	if diff := cmp.Diff(want, balances); diff != "" {
		t.Errorf("orders balances (-want +got):\n%s", diff)
	}

	if orders := ob.UserOrders(uid2); len(orders) != 1 || orders[0].OrderID != 2 {
		t.Errorf("UserOrders(%d) = %+v", uid2, orders)
	}
}

func TestOrderBook_SnapshotRoundTrip(t *testing.T) {
	forEachImpl(t, func(t *testing.T, impl BucketImpl) {
		ob := newFixtureBook(t, impl)
		mustProcess(t, ob, placeCmd(100, uid2, domain.ActionAsk, domain.OrderTypeGTC, 81590, 30), domain.ResultSuccess)

		data := snapshot.Marshal(ob)
		for _, target := range bucketImpls {
			r := snapshot.NewReader(data)
			restored := ReadOrderBook(r, target)
			if err := r.Done(); err != nil {
				t.Fatalf("decode into %s: %v", target, err)
			}
			if err := restored.ValidateInternalState(); err != nil {
				t.Fatalf("restored %s book invalid: %v", target, err)
			}
			if restored.StateHash() != ob.StateHash() {
				t.Errorf("restored %s book hashes differently", target)
			}
			if diff := cmp.Diff(ob.L2MarketData(-1), restored.L2MarketData(-1)); diff != "" {
				t.Errorf("restored L2 (-orig +restored):\n%s", diff)
			}
			if diff := cmp.Diff(data, snapshot.Marshal(restored)); diff != "" {
				t.Error("re-encoding the restored book changed the bytes")
			}
		}
	})
}
