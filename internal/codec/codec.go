// Package codec implements the pure, stateless binary codec for the two
// ledger account layouts this service projects: markets and positions.
//
// Accounts begin with a fixed 8-byte record-type discriminator, which the
// codec skips without validating (the gateway already routed the bytes by
// account type). Fields follow in strict layout order: little-endian
// fixed-width integers, 32-byte identity blobs, 4-byte-length-prefixed
// UTF-8 strings, and 1-byte-tagged optionals.
//
// Schema evolution contract: any field whose offset plus width exceeds the
// remaining buffer is treated as not present in that record's version and
// decodes to its documented default. Records minted before the extended
// fields existed therefore remain decodable forever. Only a buffer too
// short for the mandatory prefix fields is an error.
package codec

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/plp-labs/marketsync/internal/domain"
)

// discriminatorLen is the width of the record-type tag prefixing every
// account.
const discriminatorLen = 8

// maxStringLen caps length-prefixed strings; anything larger than the
// biggest metadata URI the ledger program accepts is corrupt.
const maxStringLen = 1024

var (
	marketDiscriminator   = accountDiscriminator("Market")
	positionDiscriminator = accountDiscriminator("Position")
)

// accountDiscriminator derives the 8-byte record-type tag the ledger
// program writes for a named account type.
func accountDiscriminator(name string) [discriminatorLen]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [discriminatorLen]byte
	copy(d[:], sum[:discriminatorLen])
	return d
}

// byteReader walks a buffer by advancing a cursor. Every read reports
// whether the field was fully present; partial trailing fields read as
// absent.
type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *byteReader) take(n int) ([]byte, bool) {
	if n < 0 || r.remaining() < n {
		r.off = len(r.buf)
		return nil, false
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, true
}

func (r *byteReader) u8() (byte, bool) {
	b, ok := r.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *byteReader) u32() (uint32, bool) {
	b, ok := r.take(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (r *byteReader) u64() (uint64, bool) {
	b, ok := r.take(8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func (r *byteReader) i64() (int64, bool) {
	v, ok := r.u64()
	return int64(v), ok
}

func (r *byteReader) address() (domain.Address, bool) {
	var a domain.Address
	b, ok := r.take(domain.AddressLen)
	if !ok {
		return a, false
	}
	copy(a[:], b)
	return a, true
}

// str reads a 4-byte-length-prefixed UTF-8 string.
func (r *byteReader) str() (string, bool) {
	n, ok := r.u32()
	if !ok || n > maxStringLen {
		r.off = len(r.buf)
		return "", false
	}
	b, ok := r.take(int(n))
	if !ok {
		return "", false
	}
	return string(b), true
}

// optionAddress reads a 1-byte-tagged optional identity. A missing or
// truncated optional decodes as nil.
func (r *byteReader) optionAddress() (*domain.Address, bool) {
	tag, ok := r.u8()
	if !ok {
		return nil, false
	}
	if tag == 0 {
		return nil, true
	}
	a, ok := r.address()
	if !ok {
		return nil, false
	}
	return &a, true
}
