package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Values in the tree are CBOR-encoded. Core-deterministic encoding keeps
// byte-level equality meaningful for last-write-wins comparison in tests.
var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: invalid cbor encoding options: %v", err))
	}
}

// Encode serializes a value for storage in the tree.
func Encode(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return data, nil
}

// Decode deserializes a stored value into out.
func Decode(data []byte, out any) error {
	if err := cbor.Unmarshal(data, out); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}
