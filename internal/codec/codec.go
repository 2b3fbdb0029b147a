// Package codec implements the copy-semantics serialization boundary
// between the coordinator and its workers.
//
// Payloads and results are encoded to canonical CBOR when they cross the
// boundary, so neither side can observe the other's mutations. Transfer
// buffers deliberately bypass this package.
package codec

import (
	cbor "github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("codec: building CBOR encode mode: " + err.Error())
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: building CBOR decode mode: " + err.Error())
	}
	encMode = em
	decMode = dm
}

// Marshal encodes v into deterministic CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v, which must be a pointer.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
