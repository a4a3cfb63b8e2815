package memory

import (
	"fmt"
	"sync"

	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of IRequestPersistence.
// This implementation is intended for TESTING and local development only.
//
// Requests are kept in their serialized form, so callers never share memory with the store.
type MemoryPersistence struct {
	mu sync.RWMutex

	// id -> serialized Request
	requests map[types.RequestId][]byte

	nextId       types.RequestId
	storageUsage uint64

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("WARNING: Using in-memory persistence - ALL REQUESTS WILL BE LOST ON RESTART")
	fmt.Println("WARNING: This should ONLY be used for testing. Set ADAO_PERSISTENCE_TYPE=badger for production")

	return &MemoryPersistence{
		requests: make(map[types.RequestId][]byte),
	}
}

func (m *MemoryPersistence) NextRequestId() (types.RequestId, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, persistence.ErrClosed
	}
	return m.nextId, nil
}

func (m *MemoryPersistence) InsertRequest(req *types.Request) error {
	_, err := m.AllocateRequest(persistence.ExactRequest(req))
	return err
}

func (m *MemoryPersistence) AllocateRequest(build persistence.RequestBuilder) (*types.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	req, err := build(m.nextId)
	if err != nil {
		return nil, err
	}
	exists := false
	if req != nil {
		_, exists = m.requests[req.Id]
	}
	if err := persistence.CheckInsert(req, m.nextId, exists); err != nil {
		return nil, err
	}

	data, err := persistence.MarshalRequest(req)
	if err != nil {
		return nil, err
	}

	m.requests[req.Id] = data
	m.nextId = req.Id + 1
	m.storageUsage += uint64(len(persistence.RequestKey(req.Id)) + len(data))
	return req, nil
}

func (m *MemoryPersistence) GetRequest(id types.RequestId) (*types.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	data, exists := m.requests[id]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return persistence.UnmarshalRequest(data)
}

func (m *MemoryPersistence) StorageUsage() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, persistence.ErrClosed
	}
	return m.storageUsage, nil
}

// Close marks the persistence layer as closed and drops all data.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.requests = nil
	return nil
}

func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}
