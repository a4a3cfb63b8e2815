package persistence

import "github.com/Layr-Labs/abstract-dao-go/pkg/types"

// IRequestPersistence stores signature requests and the id counter.
// All implementations must be thread-safe.
//
// The store is append only: requests are written once and never updated or removed.
type IRequestPersistence interface {
	// NextRequestId returns the id the next inserted request must carry.
	// Starts at 0 on an empty store.
	NextRequestId() (types.RequestId, error)

	// AllocateRequest reads the counter, calls build with it and stores the result,
	// advancing the counter, all in one atomic write. Stores shared between processes
	// call build again with the fresh counter when another writer got there first.
	// An error from build aborts the write and is returned unchanged.
	AllocateRequest(build RequestBuilder) (*types.Request, error)

	// InsertRequest stores req under its own id, i.e. AllocateRequest(ExactRequest(req)).
	// Returns an ErrAlreadyExists coded error if req.Id is already stored, and an error if
	// req.Id is not the current NextRequestId.
	InsertRequest(req *types.Request) error

	// GetRequest retrieves a request by id.
	// Returns nil if the request doesn't exist, error only on storage failure.
	GetRequest(id types.RequestId) (*types.Request, error)

	// StorageUsage returns the number of bytes occupied by stored requests as
	// reported by MeasureRequest.
	StorageUsage() (uint64, error)

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
