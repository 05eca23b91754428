package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	key          TEXT NOT NULL UNIQUE,
	kind         TEXT NOT NULL,
	source       TEXT,
	payload      BLOB,
	features     BLOB,
	observed_at  TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_records_kind ON memory_records(kind);

CREATE TABLE IF NOT EXISTS memory_tags (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	record_key  TEXT NOT NULL,
	label       TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (record_key) REFERENCES memory_records(key)
);

CREATE INDEX IF NOT EXISTS idx_memory_tags_key ON memory_tags(record_key);
`

// #endregion schema

// #region open
// Open opens a SQLite database in WAL mode. Foreign keys and the busy timeout
// are set through the DSN so every pooled connection carries them.
func Open(dbPath string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	dsn := dbPath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	return db, nil
}

// #endregion open

// #region store-struct
// Store persists observations and hypotheses with append-only tags.
// Reads may run concurrently; writes are serialized.
type Store struct {
	db *sql.DB
	mu sync.Mutex // single writer
}

// NewStore runs migrations on db and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate knowledge: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB for use by other packages (e.g. explog).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion store-struct

// #region store
// Store writes a new record and returns its key.
func (s *Store) Store(ctx context.Context, kind string, obs Observation) (string, error) {
	if kind == "" {
		kind = KindObservation
	}
	key := uuid.New().String()
	now := time.Now().UTC()
	if obs.Timestamp.IsZero() {
		obs.Timestamp = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_records (key, kind, source, payload, features, observed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, kind, obs.Source, obs.Payload, encodeVector(obs.Features),
		obs.Timestamp.UTC().Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return key, nil
}

// #endregion store

// #region tag
// Tag appends label to the record. Tags are never removed; re-applying a
// label appends another history row but the tag set is unchanged.
func (s *Store) Tag(ctx context.Context, key, label string) error {
	if label == "" {
		return fmt.Errorf("tag %s: empty label", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_records WHERE key = ?`, key,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("tag %s: %w", key, ErrNotFound)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_tags (record_key, label, created_at) VALUES (?, ?, ?)`,
		key, label, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

// #endregion tag

// #region get
// Get reads one record with its tags.
func (s *Store) Get(ctx context.Context, key string) (MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, key, kind, source, payload, features, observed_at, created_at
		 FROM memory_records WHERE key = ?`, key)
	rec, _, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MemoryRecord{}, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("get %s: %w", key, err)
	}
	if err := s.attachTags(ctx, []*MemoryRecord{&rec}); err != nil {
		return MemoryRecord{}, err
	}
	return rec, nil
}

// #endregion get

// #region retrieve
// Retrieve returns up to topK records of the seed's kind, most similar first.
// The seed itself is excluded. Ties keep insertion order.
func (s *Store) Retrieve(ctx context.Context, key string, topK int) ([]MemoryRecord, error) {
	seed, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.rank(ctx, seed.Payload.Features, seed.Kind, key, topK)
}

// Search ranks records of the given kind against an arbitrary vector.
func (s *Store) Search(ctx context.Context, vec []float32, kind string, topK int) ([]MemoryRecord, error) {
	if kind == "" {
		kind = KindObservation
	}
	return s.rank(ctx, vec, kind, "", topK)
}

type ranked struct {
	rec MemoryRecord
	seq int64
}

func (s *Store) rank(ctx context.Context, vec []float32, kind, exclude string, topK int) ([]MemoryRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, key, kind, source, payload, features, observed_at, created_at
		 FROM memory_records WHERE kind = ? AND key != ? ORDER BY seq ASC`, kind, exclude)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()

	var candidates []ranked
	for rows.Next() {
		rec, seq, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.Score = CosineSimilarity(vec, rec.Payload.Features)
		candidates = append(candidates, ranked{rec: rec, seq: seq})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].rec.Score > candidates[j].rec.Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]MemoryRecord, len(candidates))
	ptrs := make([]*MemoryRecord, len(candidates))
	for i := range candidates {
		out[i] = candidates[i].rec
		ptrs[i] = &out[i]
	}
	if err := s.attachTags(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion retrieve

// #region helpers
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (MemoryRecord, int64, error) {
	var rec MemoryRecord
	var seq int64
	var source sql.NullString
	var payload, features []byte
	var observedStr, createdStr string

	if err := r.Scan(&seq, &rec.Key, &rec.Kind, &source, &payload, &features, &observedStr, &createdStr); err != nil {
		return MemoryRecord{}, 0, err
	}
	if source.Valid {
		rec.Payload.Source = source.String
	}
	rec.Payload.Payload = payload
	rec.Payload.Features = decodeVector(features)
	rec.Payload.Timestamp, _ = time.Parse(time.RFC3339Nano, observedStr)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, seq, nil
}

// attachTags loads the distinct tag set of each record in first-applied order.
func (s *Store) attachTags(ctx context.Context, recs []*MemoryRecord) error {
	for _, rec := range recs {
		rows, err := s.db.QueryContext(ctx,
			`SELECT label FROM memory_tags WHERE record_key = ? ORDER BY id ASC`, rec.Key)
		if err != nil {
			return fmt.Errorf("load tags: %w", err)
		}
		seen := make(map[string]bool)
		for rows.Next() {
			var label string
			if err := rows.Scan(&label); err != nil {
				rows.Close()
				return fmt.Errorf("scan tag: %w", err)
			}
			if !seen[label] {
				seen[label] = true
				rec.Tags = append(rec.Tags, label)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// #endregion helpers
