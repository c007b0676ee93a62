package persistence

import (
	"NoteLedger/internal/ledger"
	fpmath "NoteLedger/internal/math"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// entryColumns is the column list shared by inserts and selects.
const entryColumns = `sequence, entry_id, request_id, note_id, note_seq, entry_type,
	account, amount, raised, acc_per_share, closed, token_ref, terms,
	timestamp, prev_hash, state_hash`

const entryColumnCount = 16

// PostgresStore writes the journal to event_log.entries using multi-row
// INSERT inside one transaction per batch. Amounts are NUMERIC(78,0) so any
// 256-bit value fits.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings the database. Schema is managed by Migrator.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the pool for the migrator and health checks.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) AppendEntries(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := writeEntryBatch(ctx, tx, entries); err != nil {
		return fmt.Errorf("write entries: %w", err)
	}
	if err := writeDepositBatch(ctx, tx, entries); err != nil {
		return fmt.Errorf("write deposits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func writeEntryBatch(ctx context.Context, tx *sql.Tx, entries []ledger.Entry) error {
	query := `INSERT INTO event_log.entries (` + entryColumns + `) VALUES `

	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*entryColumnCount)

	for i := range entries {
		e := &entries[i]
		values = append(values, placeholders(i*entryColumnCount, entryColumnCount))

		var requestID interface{}
		if e.RequestID != uuid.Nil {
			requestID = e.RequestID.String()
		}
		var tokenRef interface{}
		if e.Type == ledger.EntryNoteCreated {
			tokenRef = e.TokenRef.Bytes()
		}

		args = append(args,
			int64(e.Sequence), e.EntryID.String(), requestID, int64(e.NoteID), int64(e.NoteSeq), e.Type.String(),
			e.Account.Bytes(), fpmath.FormatAmount(&e.Amount), fpmath.FormatAmount(&e.Raised),
			fpmath.FormatAmount(&e.AccPerShare), e.Closed, tokenRef, e.Terms,
			e.Timestamp, e.PrevHash[:], e.StateHash[:],
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func writeDepositBatch(ctx context.Context, tx *sql.Tx, entries []ledger.Entry) error {
	const cols = 6
	values := make([]string, 0)
	args := make([]interface{}, 0)

	for i := range entries {
		e := &entries[i]
		if e.Type != ledger.EntryYieldDeposited {
			continue
		}
		values = append(values, placeholders(len(values)*cols, cols))
		args = append(args,
			int64(e.Sequence), int64(e.NoteID), e.Account.Bytes(),
			fpmath.FormatAmount(&e.Amount), fpmath.FormatAmount(&e.AccPerShare), e.Timestamp,
		)
	}
	if len(values) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.yield_deposits
		(entry_sequence, note_id, payer, amount, resulting_acc_per_share, timestamp)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (entry_sequence) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}

func (s *PostgresStore) LoadEntriesAfter(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM event_log.entries
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e                        ledger.Entry
		seq, noteID, noteSeq     int64
		entryID                  string
		requestID                sql.NullString
		typ                      string
		account, tokenRef, terms []byte
		amount, raised, acc      string
		prevHash, stateHash      []byte
	)
	if err := rows.Scan(
		&seq, &entryID, &requestID, &noteID, &noteSeq, &typ,
		&account, &amount, &raised, &acc, &e.Closed, &tokenRef, &terms,
		&e.Timestamp, &prevHash, &stateHash,
	); err != nil {
		return e, err
	}

	var err error
	e.Sequence, e.NoteID, e.NoteSeq = uint64(seq), ledger.NoteID(noteID), uint64(noteSeq)
	if e.EntryID, err = uuid.Parse(entryID); err != nil {
		return e, fmt.Errorf("entry %d: entry_id: %w", seq, err)
	}
	if requestID.Valid {
		if e.RequestID, err = uuid.Parse(requestID.String); err != nil {
			return e, fmt.Errorf("entry %d: request_id: %w", seq, err)
		}
	}
	if e.Type, err = ledger.ParseEntryType(typ); err != nil {
		return e, fmt.Errorf("entry %d: %w", seq, err)
	}

	e.Account = common.BytesToAddress(account)
	if tokenRef != nil {
		e.TokenRef = common.BytesToAddress(tokenRef)
	}
	if len(terms) > 0 {
		e.Terms = terms
	}

	for _, f := range []struct {
		dst interface{ SetFromDecimal(string) error }
		src string
	}{{&e.Amount, amount}, {&e.Raised, raised}, {&e.AccPerShare, acc}} {
		if err := f.dst.SetFromDecimal(f.src); err != nil {
			return e, fmt.Errorf("entry %d: numeric %q: %w", seq, f.src, err)
		}
	}

	if len(prevHash) != 32 || len(stateHash) != 32 {
		return e, fmt.Errorf("entry %d: bad hash length", seq)
	}
	copy(e.PrevHash[:], prevHash)
	copy(e.StateHash[:], stateHash)
	e.Timestamp = e.Timestamp.UTC()

	return e, nil
}

func (s *PostgresStore) HasRequest(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.entries
		WHERE request_id = $1
		LIMIT 1
	`, id.String()).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) RecentRequestIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id FROM (
			SELECT sequence, request_id
			FROM event_log.entries
			WHERE request_id IS NOT NULL
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListDeposits(ctx context.Context, id ledger.NoteID) ([]ledger.YieldDepositRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payer, amount, resulting_acc_per_share, timestamp
		FROM event_log.yield_deposits
		WHERE note_id = $1
		ORDER BY entry_sequence ASC
	`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.YieldDepositRecord
	for rows.Next() {
		var (
			payer       []byte
			amount, acc string
			rec         ledger.YieldDepositRecord
		)
		if err := rows.Scan(&payer, &amount, &acc, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.NoteID = id
		rec.Payer = common.BytesToAddress(payer)
		rec.Sequence = uint64(len(out) + 1)
		rec.Timestamp = rec.Timestamp.UTC()
		if err := rec.Amount.SetFromDecimal(amount); err != nil {
			return nil, err
		}
		if err := rec.ResultingAccPerShare.SetFromDecimal(acc); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveSnapshot stores the JSON-encoded snapshot. Format version 1.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *ledger.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, format_version, size_bytes, note_count, created_at)
		VALUES ($1, $2, $3, 1, $4, $5, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4, note_count = $5
	`, uuid.New().String(), int64(snap.Sequence), data, len(data), len(snap.Notes), snap.CreatedAt)
	return err
}

func (s *PostgresStore) LoadLatestSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // cold start
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *PostgresStore) LatestSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.entries`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
