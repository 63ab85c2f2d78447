package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalWalletRecord serializes a WalletRecord to JSON bytes.
func MarshalWalletRecord(r *WalletRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot marshal nil WalletRecord")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal WalletRecord to JSON: %w", err)
	}
	return data, nil
}

// UnmarshalWalletRecord deserializes a WalletRecord from JSON bytes.
func UnmarshalWalletRecord(data []byte) (*WalletRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}
	var r WalletRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to WalletRecord: %w", err)
	}
	return &r, nil
}

// MarshalProtocolCheckpoint serializes a ProtocolCheckpoint to JSON bytes.
func MarshalProtocolCheckpoint(c *ProtocolCheckpoint) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot marshal nil ProtocolCheckpoint")
	}
	return json.Marshal(c)
}

// UnmarshalProtocolCheckpoint deserializes a ProtocolCheckpoint from JSON bytes.
func UnmarshalProtocolCheckpoint(data []byte) (*ProtocolCheckpoint, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}
	var c ProtocolCheckpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to ProtocolCheckpoint: %w", err)
	}
	return &c, nil
}
