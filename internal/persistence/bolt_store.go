package persistence

import (
	"NoteLedger/internal/ledger"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketEntries   = []byte("entries")   // seq -> entry JSON
	bucketRequests  = []byte("requests")  // request id -> seq
	bucketDeposits  = []byte("deposits")  // note id | seq -> seq
	bucketSnapshots = []byte("snapshots") // seq -> snapshot JSON
)

// BoltStore is the embedded single-file driver.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at path. The parent directory
// is created if it does not exist.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("persistence: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("persistence: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketRequests, bucketDeposits, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func depositKey(id ledger.NoteID, seq uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(id))
	binary.BigEndian.PutUint64(k[8:], seq)
	return k
}

func (s *BoltStore) AppendEntries(ctx context.Context, entries []ledger.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(bucketEntries)
		rb := tx.Bucket(bucketRequests)
		dpb := tx.Bucket(bucketDeposits)

		for i := range entries {
			e := &entries[i]
			key := seqKey(e.Sequence)
			if eb.Get(key) != nil {
				continue
			}

			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode entry %d: %w", e.Sequence, err)
			}
			if err := eb.Put(key, data); err != nil {
				return fmt.Errorf("put entry %d: %w", e.Sequence, err)
			}
			if e.RequestID != uuid.Nil {
				if err := rb.Put(e.RequestID[:], key); err != nil {
					return fmt.Errorf("put request %s: %w", e.RequestID, err)
				}
			}
			if e.Type == ledger.EntryYieldDeposited {
				if err := dpb.Put(depositKey(e.NoteID, e.Sequence), key); err != nil {
					return fmt.Errorf("put deposit %d: %w", e.Sequence, err)
				}
			}
		}
		return nil
	})
}

func (s *BoltStore) LoadEntriesAfter(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Seek(seqKey(after + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var e ledger.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) HasRequest(ctx context.Context, id uuid.UUID) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketRequests).Get(id[:]) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) RecentRequestIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(ids) >= limit {
				break
			}
			var e ledger.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.RequestID != uuid.Nil {
				ids = append(ids, e.RequestID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// newest first -> oldest first
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

func (s *BoltStore) ListDeposits(ctx context.Context, id ledger.NoteID) ([]ledger.YieldDepositRecord, error) {
	var out []ledger.YieldDepositRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(bucketEntries)
		prefix := depositKey(id, 0)[:8]

		c := tx.Bucket(bucketDeposits).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := eb.Get(v)
			if data == nil {
				return fmt.Errorf("deposit index points at missing entry %d", binary.BigEndian.Uint64(v))
			}
			var e ledger.Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			out = append(out, depositFromEntry(&e, uint64(len(out)+1)))
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(seqKey(snap.Sequence), data)
	})
}

func (s *BoltStore) LoadLatestSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	var snap *ledger.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(bucketSnapshots).Cursor().Last()
		if v == nil {
			return nil
		}
		snap = new(ledger.Snapshot)
		return json.Unmarshal(v, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *BoltStore) LatestSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if k, _ := tx.Bucket(bucketEntries).Cursor().Last(); k != nil {
			seq = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return seq, err
}

func (s *BoltStore) Close() error { return s.db.Close() }
