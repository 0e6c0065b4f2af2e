package database

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Values are stored as CBOR: compact, schema-free and stable across process
// restarts. The wire codec deliberately uses a different (textual) encoding;
// see internal/network.

func serialize(v interface{}) ([]byte, error) {
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	return data, nil
}

func deserialize(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	return nil
}
