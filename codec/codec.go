// Package codec wraps the wire serializer used for all mailbox payloads.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding so that two encoders produce identical
	// bytes for the same value.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: bad CBOR encode options: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// A decoded message is bounded by what one mailbox send can carry.
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("codec: bad CBOR decode options: " + err.Error())
	}
}

// Encodable is implemented by any value the codec can encode.
type Encodable interface{}

// Decodable is implemented by any value the codec can decode into.
type Decodable interface{}

// EncodeTo encodes value to a writer stream.
func EncodeTo(w io.Writer, value Encodable) error {
	if err := encMode.NewEncoder(w).Encode(value); err != nil {
		return fmt.Errorf("encode CBOR: %w", err)
	}
	return nil
}

// DecodeFrom decodes a value using data from a reader stream.
func DecodeFrom(r io.Reader, value Decodable) error {
	if err := decMode.NewDecoder(r).Decode(value); err != nil {
		return fmt.Errorf("decode CBOR: %w", err)
	}
	return nil
}

var encoderPool = sync.Pool{
	New: func() any {
		b := new(bytes.Buffer)
		b.Grow(64)
		return b
	},
}

// Encode value to a byte slice.
func Encode(value Encodable) ([]byte, error) {
	b := encoderPool.Get().(*bytes.Buffer)
	defer func() {
		b.Reset()
		encoderPool.Put(b)
	}()
	if err := EncodeTo(b, value); err != nil {
		return nil, err
	}
	buf := make([]byte, b.Len())
	copy(buf, b.Bytes())
	return buf, nil
}

// Decode a value from a byte slice.
func Decode(data []byte, value Decodable) error {
	if err := decMode.Unmarshal(data, value); err != nil {
		return fmt.Errorf("decode CBOR: %w", err)
	}
	return nil
}

// MustEncode encodes value or panics. Intended for messages built entirely
// from in-memory state, where an encoding failure is a bug.
func MustEncode(value Encodable) []byte {
	buf, err := Encode(value)
	if err != nil {
		panic("codec: " + err.Error())
	}
	return buf
}
