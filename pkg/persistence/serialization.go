package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// MarshalRequest serializes a Request to JSON bytes.
func MarshalRequest(req *types.Request) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("cannot marshal nil Request")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Request to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalRequest deserializes a Request from JSON bytes.
func UnmarshalRequest(data []byte) (*types.Request, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var req types.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Request: %w", err)
	}

	return &req, nil
}
