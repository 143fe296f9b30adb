// Package wire implements the length-prefixed CBOR codec that carries
// requests and responses across the control-plane/signing-module boundary,
// plus the fixed binary grant layout the device firmware parses.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// maxMessageBytes bounds a single message so a malformed or hostile length
// prefix can never force an unbounded allocation.
const maxMessageBytes = 16 << 20 // 16 MiB

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building canonical CBOR encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{MaxMapPairs: 1 << 16, MaxArrayElements: 1 << 16}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building CBOR decoder: %v", err))
	}
}

// WriteMessage encodes v as canonical CBOR and writes it to w prefixed with
// a 4-byte big-endian length.
func WriteMessage(w io.Writer, v interface{}) error {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encoding message: %w", err)
	}
	if len(payload) > maxMessageBytes {
		return fmt.Errorf("wire: message of %d bytes exceeds limit of %d", len(payload), maxMessageBytes)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: writing length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: writing payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed CBOR message from r and decodes it
// into v.
func ReadMessage(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("wire: reading length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageBytes {
		return fmt.Errorf("wire: declared message length %d exceeds limit of %d", n, maxMessageBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("wire: reading payload: %w", err)
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("wire: decoding message: %w", err)
	}
	return nil
}
