package persistence

import (
	"fmt"

	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// Logical key layout shared by all backends. Backends may add their own namespace prefix,
// which is not counted towards storage usage.
const (
	KeyPrefixRequest     = "request:"
	KeyNextRequestId     = "metadata:next_request_id"
	KeyStorageUsage      = "metadata:storage_usage"
	KeySchemaVersion     = "metadata:schema_version"
	CurrentSchemaVersion = "v1"
)

var ErrClosed = fmt.Errorf("persistence layer is closed")

// RequestKey returns the logical key of a request. Ids are zero padded so keys sort by id.
func RequestKey(id types.RequestId) string {
	return fmt.Sprintf("%s%020d", KeyPrefixRequest, id)
}

// MeasureRequest returns the number of bytes InsertRequest adds to StorageUsage for req:
// the length of its logical key plus its serialized value.
func MeasureRequest(req *types.Request) (uint64, error) {
	data, err := MarshalRequest(req)
	if err != nil {
		return 0, err
	}
	return uint64(len(RequestKey(req.Id)) + len(data)), nil
}

// RequestBuilder builds the request to store under id. It may run more than once
// per write and must not have side effects beyond its return values.
type RequestBuilder func(id types.RequestId) (*types.Request, error)

// ExactRequest builds req as given whatever id the store offers, so CheckInsert
// rejects it when req.Id is taken or not next.
func ExactRequest(req *types.Request) RequestBuilder {
	return func(types.RequestId) (*types.Request, error) {
		return req, nil
	}
}

// CheckInsert validates req against the store's current counter.
func CheckInsert(req *types.Request, next types.RequestId, exists bool) error {
	if req == nil {
		return fmt.Errorf("cannot insert nil Request")
	}
	if exists {
		return errs.New(errs.CodeAlreadyExists, "request %d already exists", req.Id)
	}
	if req.Id != next {
		return fmt.Errorf("request id %d out of sequence, expected %d", req.Id, next)
	}
	return nil
}
