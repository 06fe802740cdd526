package deadletter

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"

	"github.com/marmos91/framingd/internal/logger"
)

// Key schema:
//
//	dl:<16 byte uuid>  ->  JSON-encoded Record
//
// Version 7 ids are time ordered, so a prefix scan yields records oldest
// first.
var recordPrefix = []byte("dl:")

func keyRecord(id uuid.UUID) []byte {
	key := make([]byte, 0, len(recordPrefix)+len(id))
	key = append(key, recordPrefix...)
	return append(key, id[:]...)
}

// BadgerStoreConfig configures a BadgerStore.
type BadgerStoreConfig struct {
	// DBPath is the directory where BadgerDB keeps its files. It is created
	// if missing.
	DBPath string

	// InMemory runs BadgerDB without touching disk. DBPath is ignored.
	InMemory bool

	// SyncWrites makes every Put durable before it returns.
	SyncWrites bool

	// BadgerOptions overrides every other setting when non-nil.
	BadgerOptions *badger.Options
}

// BadgerStore persists records in a BadgerDB database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database described by config.
func NewBadgerStore(ctx context.Context, config BadgerStoreConfig) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	switch {
	case config.BadgerOptions != nil:
		opts = *config.BadgerOptions
	case config.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	default:
		if config.DBPath == "" {
			return nil, fmt.Errorf("badger dead-letter store: db_path is required")
		}
		opts = badger.DefaultOptions(config.DBPath)
	}
	if config.BadgerOptions == nil {
		// Payloads are small and written once.
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)
		opts = opts.WithSyncWrites(config.SyncWrites)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	logger.Debug("Badger dead-letter store opened at %q (in-memory=%v)", config.DBPath, config.InMemory)
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyRecord(rec.ID), data); err != nil {
			return fmt.Errorf("failed to store dead-letter record %s: %w", rec.ID, err)
		}
		return nil
	})
}

func (s *BadgerStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRecord(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get dead-letter record %s: %w", id, err)
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeRecord(val)
			if err != nil {
				return err
			}
			rec = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BadgerStore) List(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := keyRecord(id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		} else if err != nil {
			return fmt.Errorf("failed to get dead-letter record %s: %w", id, err)
		}
		return txn.Delete(key)
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
