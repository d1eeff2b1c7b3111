package snapshot

import (
	"testing"

	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestWriteMap_SortedKeys(t *testing.T) {
	a := NewWriter()
	WriteInt32Int64Map(a, map[int32]int64{3: 30, 1: 10, 2: 20})
	b := NewWriter()
	WriteInt32Int64Map(b, map[int32]int64{1: 10, 2: 20, 3: 30})
	assert.Equal(t, a.Data(), b.Data(), "equal maps must encode identically")

	r := NewReader(a.Data())
	got := ReadInt32Int64Map(r)
	require.NoError(t, r.Done())
	assert.Equal(t, map[int32]int64{1: 10, 2: 20, 3: 30}, got)
}

func TestReader_Truncated(t *testing.T) {
	w := NewWriter()
	w.Int64(42)
	r := NewReader(w.Data()[:5])
	assert.Equal(t, int64(0), r.Int64())
	assert.True(t, errors.Is(r.Err(), ErrTruncated))
	// Sticky: later reads stay zero.
	assert.Equal(t, int32(0), r.Int32())
}

func TestReader_TrailingBytes(t *testing.T) {
	w := NewWriter()
	w.Int32(1)
	w.Int32(2)
	r := NewReader(w.Data())
	r.Int32()
	assert.True(t, errors.Is(r.Done(), ErrTrailingBytes))
}

func TestReader_NegativeLength(t *testing.T) {
	w := NewWriter()
	w.Int32(-5)
	r := NewReader(w.Data())
	assert.Nil(t, r.Bytes())
	assert.Error(t, r.Err())
}

func TestSymbolSpecAndOrder_RoundTrip(t *testing.T) {
	spec := &domain.SymbolSpec{
		SymbolID: 100, Type: domain.SymbolFuturesContract, BaseCurrency: 1, QuoteCurrency: 2,
		BaseScaleK: 100, QuoteScaleK: 10, TakerFee: 3, MakerFee: 1, MarginBuy: 500, MarginSell: 550,
	}
	order := &domain.Order{OrderID: 9, UID: 412, Price: 81599, Size: 50, Filled: 7, ReserveBidPrice: 81600, Action: domain.ActionBid, Timestamp: 123}

	w := NewWriter()
	WriteSymbolSpec(w, spec)
	WriteOrder(w, order)
	w.Bytes([]byte("tail"))

	r := NewReader(w.Data())
	assert.Equal(t, spec, ReadSymbolSpec(r))
	assert.Equal(t, order, ReadOrder(r))
	assert.Equal(t, []byte("tail"), r.Bytes())
	require.NoError(t, r.Done())
}

func TestProperty_Int64SetRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOf(rapid.Int64()).Draw(t, "ids")
		set := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		w := NewWriter()
		WriteInt64Set(w, set)
		r := NewReader(w.Data())
		got := ReadInt64Set(r)
		if err := r.Done(); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != len(set) {
			t.Fatalf("decoded %d ids, want %d", len(got), len(set))
		}
		for id := range set {
			if _, ok := got[id]; !ok {
				t.Fatalf("id %d lost in round trip", id)
			}
		}
	})
}
