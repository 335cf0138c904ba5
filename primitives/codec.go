package primitives

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a Reader runs out of bytes mid-field.
var ErrShortBuffer = errors.New("primitives: short buffer")

// Writer appends a deterministic binary encoding into a growable buffer.
// Integers are little-endian unless a Big* method is used explicitly (the
// codec reserves big-endian encoding for address-derivation preimages and
// bridge message hashes per the wire-format spec). Variable-length byte
// sequences are varint-length-prefixed.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer pre-sized to hint bytes.
func NewWriter(hint int) *Writer { return &Writer{buf: make([]byte, 0, hint)} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutInt64(v int64) { w.PutUint64(uint64(v)) }

func (w *Writer) PutBigEndianUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutVarint encodes n as an unsigned LEB128-style varint (7 bits/byte,
// high bit = continuation).
func (w *Writer) PutVarint(n uint64) {
	for n >= 0x80 {
		w.buf = append(w.buf, byte(n)|0x80)
		n >>= 7
	}
	w.buf = append(w.buf, byte(n))
}

// PutBytes writes a varint length prefix followed by raw bytes.
func (w *Writer) PutBytes(b []byte) {
	w.PutVarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// PutFixed writes raw bytes with no length prefix (for fixed-width fields
// whose length is implied by the type, e.g. Hash, Address).
func (w *Writer) PutFixed(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) PutHash(h Hash)       { w.PutFixed(h[:]) }
func (w *Writer) PutAddress(a Address) { w.PutFixed(a[:]) }
func (w *Writer) PutUInt256(u UInt256) { b := u.Bytes32(); w.PutFixed(b[:]) }
func (w *Writer) PutBool(v bool) {
	if v {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
}

// Reader parses a buffer written by Writer, sequentially.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return ErrShortBuffer
	}
	return nil
}

func (r *Reader) GetUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) GetUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) GetUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) GetInt64() (int64, error) {
	v, err := r.GetUint64()
	return int64(v), err
}

func (r *Reader) GetBigEndianUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) GetVarint() (uint64, error) {
	var result uint64
	var shift uint
	for {
		if err := r.need(1); err != nil {
			return 0, err
		}
		b := r.buf[r.pos]
		r.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, errors.New("primitives: varint too long")
		}
	}
}

func (r *Reader) GetBytes() ([]byte, error) {
	n, err := r.GetVarint()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *Reader) GetFixed(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *Reader) GetHash() (Hash, error) {
	b, err := r.GetFixed(HashSize)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func (r *Reader) GetAddress() (Address, error) {
	b, err := r.GetFixed(AddressSize)
	if err != nil {
		return Address{}, err
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func (r *Reader) GetUInt256() (UInt256, error) {
	b, err := r.GetFixed(32)
	if err != nil {
		return UInt256{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return UInt256FromBytes32(arr), nil
}

func (r *Reader) GetBool() (bool, error) {
	v, err := r.GetUint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Codec is implemented by every structured wire/disk type: Encode appends
// the canonical byte representation; Decode parses it back. Re-encoding a
// decoded value must reproduce byte-identical output (the round-trip law).
type Codec interface {
	Encode(w *Writer)
	Decode(r *Reader) error
}
