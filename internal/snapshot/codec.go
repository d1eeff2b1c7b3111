// Package snapshot implements the binary encoding used to persist engine
// state: big-endian fixed-width scalars, length-prefixed byte strings and
// count-prefixed collections. Maps are always written in ascending key
// order so that equal states encode to equal bytes.
package snapshot

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/pkg/errors"
)

var (
	// ErrTruncated is returned when the input ends before a value does.
	ErrTruncated = errors.New("snapshot: truncated input")
	// ErrTrailingBytes is returned when input remains after decoding.
	ErrTrailingBytes = errors.New("snapshot: trailing bytes")
)

// Marshaller is implemented by every persisted entity.
type Marshaller interface {
	MarshalSnapshot(w *Writer)
}

// Writer accumulates an encoding. Writes never fail.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with a small preallocated buffer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// Data returns the bytes written so far.
func (w *Writer) Data() []byte {
	return w.buf
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) Int8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) Int32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) Int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) Uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// Len writes a collection count.
func (w *Writer) Len(n int) {
	w.Int32(int32(n))
}

// Bytes writes a length-prefixed byte string.
func (w *Writer) Bytes(b []byte) {
	w.Len(len(b))
	w.buf = append(w.buf, b...)
}

// Object writes a nested entity.
func (w *Writer) Object(m Marshaller) {
	m.MarshalSnapshot(w)
}

// Marshal encodes m into a fresh buffer.
func Marshal(m Marshaller) []byte {
	w := NewWriter()
	m.MarshalSnapshot(w)
	return w.Data()
}

// WriteMap writes a count followed by key/value pairs in ascending key order.
func WriteMap[K cmp.Ordered, V any](w *Writer, m map[K]V, key func(*Writer, K), val func(*Writer, V)) {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	w.Len(len(keys))
	for _, k := range keys {
		key(w, k)
		val(w, m[k])
	}
}

// WriteInt32Int64Map is WriteMap for the common currency→amount shape.
func WriteInt32Int64Map(w *Writer, m map[int32]int64) {
	WriteMap(w, m, (*Writer).Int32, (*Writer).Int64)
}

// WriteInt64Set writes a set of int64 in ascending order.
func WriteInt64Set(w *Writer, s map[int64]struct{}) {
	keys := make([]int64, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	w.Len(len(keys))
	for _, k := range keys {
		w.Int64(k)
	}
}

// Reader decodes an encoding. The first failure is sticky: later reads
// return zero values and Err reports the failure.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decoding failure.
func (r *Reader) Err() error {
	return r.err
}

// Done returns the first failure, or ErrTrailingBytes if input remains.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return errors.Wrapf(ErrTrailingBytes, "%d bytes left at offset %d", len(r.data)-r.off, r.off)
	}
	return nil
}

// Fail records err unless an earlier failure exists. Decoders use it for
// semantic errors found while reading.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = errors.Wrapf(ErrTruncated, "need %d bytes at offset %d", n, r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Bool() bool {
	b := r.take(1)
	return b != nil && b[0] == 1
}

func (r *Reader) Int8() int8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return int8(b[0])
}

func (r *Reader) Int32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *Reader) Int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Len reads a collection count. A negative count is a decoding failure.
func (r *Reader) Len() int {
	n := r.Int32()
	if n < 0 {
		r.Fail(errors.Errorf("snapshot: negative length %d at offset %d", n, r.off-4))
		return 0
	}
	return int(n)
}

// Bytes reads a length-prefixed byte string.
func (r *Reader) Bytes() []byte {
	n := r.Len()
	b := r.take(n)
	if b == nil {
		return nil
	}
	return slices.Clone(b)
}

// ReadMap reads a map written by WriteMap.
func ReadMap[K comparable, V any](r *Reader, key func(*Reader) K, val func(*Reader) V) map[K]V {
	n := r.Len()
	m := make(map[K]V, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := key(r)
		m[k] = val(r)
	}
	return m
}

// ReadInt32Int64Map reads a map written by WriteInt32Int64Map.
func ReadInt32Int64Map(r *Reader) map[int32]int64 {
	return ReadMap(r, (*Reader).Int32, (*Reader).Int64)
}

// ReadInt64Set reads a set written by WriteInt64Set.
func ReadInt64Set(r *Reader) map[int64]struct{} {
	n := r.Len()
	s := make(map[int64]struct{}, n)
	for i := 0; i < n && r.err == nil; i++ {
		s[r.Int64()] = struct{}{}
	}
	return s
}
