package badger

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/abstract-dao-go/pkg/persistence"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

const (
	DefaultGCInterval     = 5 * time.Minute
	DefaultGCDiscardRatio = 0.5
)

// Options configures the Badger request store.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM; nothing survives Close.
	InMemory bool

	GCInterval     time.Duration
	GCDiscardRatio float64
}

func (o *Options) badgerOptions(logger *zap.Logger) (badgerdb.Options, error) {
	var opts badgerdb.Options
	if o.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		absPath, err := filepath.Abs(o.Path)
		if err != nil {
			return opts, fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		opts = badgerdb.DefaultOptions(absPath).WithSyncWrites(true)
	}
	opts = opts.
		WithLogger(&badgerLoggerAdapter{logger: logger}).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true)
	return opts, nil
}

// BadgerPersistence is the durable, disk-based request store.
type BadgerPersistence struct {
	db     *badgerdb.DB
	logger *zap.Logger

	// mu guards closed; writeMu serializes the read-check-write in AllocateRequest.
	mu      sync.RWMutex
	writeMu sync.Mutex
	closed  bool

	stopGC chan struct{}
	gcDone chan struct{}
}

// NewBadgerPersistence opens (or creates) a database at dataPath with default GC settings.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	return Open(&Options{Path: dataPath}, logger)
}

// Open opens the store described by o, checks its schema version and starts value
// log garbage collection.
func Open(o *Options, logger *zap.Logger) (*BadgerPersistence, error) {
	if o == nil {
		return nil, fmt.Errorf("badger options are required")
	}
	opts, err := o.badgerOptions(logger)
	if err != nil {
		return nil, err
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %q: %w", opts.Dir, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
		stopGC: make(chan struct{}),
		gcDone: make(chan struct{}),
	}
	if err := bp.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	interval := o.GCInterval
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	ratio := o.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = DefaultGCDiscardRatio
	}
	go bp.collectGarbage(interval, ratio)

	logger.Sugar().Infow("Opened badger request store", "dir", opts.Dir, "in_memory", o.InMemory)
	return bp, nil
}

// ensureSchema stamps a fresh database and refuses one written by another layout.
func (b *BadgerPersistence) ensureSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		version, found, err := getValue(txn, persistence.KeySchemaVersion)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if !found {
			return txn.Set([]byte(persistence.KeySchemaVersion), []byte(persistence.CurrentSchemaVersion))
		}
		if string(version) != persistence.CurrentSchemaVersion {
			return fmt.Errorf("unsupported schema version %q, expected %q", version, persistence.CurrentSchemaVersion)
		}
		return nil
	})
}

func (b *BadgerPersistence) collectGarbage(interval time.Duration, ratio float64) {
	defer close(b.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			// Rewrite as many value log files as qualify, one per call.
			for {
				err := b.db.RunValueLogGC(ratio)
				if err == nil {
					continue
				}
				if !errors.Is(err, badgerdb.ErrNoRewrite) && !errors.Is(err, badgerdb.ErrRejected) {
					b.logger.Sugar().Warnw("Value log GC failed", "error", err)
				}
				break
			}
		}
	}
}

// open runs fn while holding the read side of the closed guard.
func (b *BadgerPersistence) open(fn func() error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return persistence.ErrClosed
	}
	return fn()
}

// getValue returns a copy of key's value and whether it exists.
func getValue(txn *badgerdb.Txn, key string) ([]byte, bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// getCounter reads a big-endian uint64; a missing key is zero.
func getCounter(txn *badgerdb.Txn, key string) (uint64, error) {
	val, found, err := getValue(txn, key)
	if err != nil || !found {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("counter %s holds %d bytes, want 8", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

func setCounter(txn *badgerdb.Txn, key string, v uint64) error {
	return txn.Set([]byte(key), binary.BigEndian.AppendUint64(nil, v))
}

func (b *BadgerPersistence) readCounter(key string) (uint64, error) {
	var v uint64
	err := b.open(func() error {
		return b.db.View(func(txn *badgerdb.Txn) error {
			var err error
			v, err = getCounter(txn, key)
			return err
		})
	})
	return v, err
}

func (b *BadgerPersistence) NextRequestId() (types.RequestId, error) {
	next, err := b.readCounter(persistence.KeyNextRequestId)
	if err != nil {
		return 0, fmt.Errorf("failed to read next request id: %w", err)
	}
	return types.RequestId(next), nil
}

func (b *BadgerPersistence) InsertRequest(req *types.Request) error {
	_, err := b.AllocateRequest(persistence.ExactRequest(req))
	return err
}

// AllocateRequest writes the request, the advanced counter and the new usage total in one transaction.
func (b *BadgerPersistence) AllocateRequest(build persistence.RequestBuilder) (*types.Request, error) {
	var stored *types.Request
	err := b.open(func() error {
		b.writeMu.Lock()
		defer b.writeMu.Unlock()

		return b.db.Update(func(txn *badgerdb.Txn) error {
			next, err := getCounter(txn, persistence.KeyNextRequestId)
			if err != nil {
				return fmt.Errorf("failed to read next request id: %w", err)
			}
			req, err := build(types.RequestId(next))
			if err != nil {
				return err
			}
			if req == nil {
				return persistence.CheckInsert(nil, types.RequestId(next), false)
			}
			key := persistence.RequestKey(req.Id)
			_, exists, err := getValue(txn, key)
			if err != nil {
				return fmt.Errorf("failed to check request %d: %w", req.Id, err)
			}
			if err := persistence.CheckInsert(req, types.RequestId(next), exists); err != nil {
				return err
			}
			data, err := persistence.MarshalRequest(req)
			if err != nil {
				return err
			}
			usage, err := getCounter(txn, persistence.KeyStorageUsage)
			if err != nil {
				return fmt.Errorf("failed to read storage usage: %w", err)
			}

			if err := txn.Set([]byte(key), data); err != nil {
				return err
			}
			if err := setCounter(txn, persistence.KeyNextRequestId, uint64(req.Id)+1); err != nil {
				return err
			}
			if err := setCounter(txn, persistence.KeyStorageUsage, usage+uint64(len(key)+len(data))); err != nil {
				return err
			}
			stored = req
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (b *BadgerPersistence) GetRequest(id types.RequestId) (*types.Request, error) {
	var data []byte
	err := b.open(func() error {
		return b.db.View(func(txn *badgerdb.Txn) error {
			var err error
			data, _, err = getValue(txn, persistence.RequestKey(id))
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalRequest(data)
}

func (b *BadgerPersistence) StorageUsage() (uint64, error) {
	usage, err := b.readCounter(persistence.KeyStorageUsage)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}
	return usage, nil
}

// Close stops garbage collection and closes the database. Repeated calls are no-ops.
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	close(b.stopGC)
	<-b.gcDone

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	b.logger.Sugar().Info("Closed badger request store")
	return nil
}

func (b *BadgerPersistence) HealthCheck() error {
	return b.open(func() error {
		return b.db.View(func(txn *badgerdb.Txn) error {
			_, found, err := getValue(txn, persistence.KeySchemaVersion)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("schema version missing")
			}
			return nil
		})
	})
}
