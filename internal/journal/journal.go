// Package journal appends committed conversation turns to PostgreSQL.
//
// The journal is write-only. [Journal.Record] never blocks the caller: turns
// go into a bounded queue that a single writer goroutine drains. When the
// queue is full, or the database refuses a write, the turn is logged and
// dropped and the conversation carries on.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/session"
)

// DefaultQueueSize is the number of turns buffered when no size is given.
const DefaultQueueSize = 64

// writeTimeout bounds a single INSERT.
const writeTimeout = 5 * time.Second

const ddl = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    seq         INTEGER      NOT NULL,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    spoken_at   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_session
    ON conversation_turns (session_id, seq);
`

const insertTurn = `
	INSERT INTO conversation_turns (session_id, seq, speaker, text, spoken_at)
	VALUES ($1, $2, $3, $4, $5)`

// ErrClosed is returned by [Journal.Ping] after [Journal.Close].
var ErrClosed = errors.New("journal: closed")

// DB is the subset of [pgxpool.Pool] the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

type entry struct {
	seq  int
	turn session.Turn
}

// Journal writes turns to the conversation_turns table.
type Journal struct {
	db        DB
	release   func()
	sessionID string

	mu     sync.Mutex
	closed bool
	seq    int
	queue  chan entry

	done    chan struct{}
	written atomic.Int64
	dropped atomic.Int64
}

// Option configures a [Journal].
type Option func(*Journal)

// WithQueueSize sets the queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.queue = make(chan entry, n)
		}
	}
}

// WithSessionID tags every row with id. The default is the start time of
// the journal in RFC 3339 format.
func WithSessionID(id string) Option {
	return func(j *Journal) {
		if id != "" {
			j.sessionID = id
		}
	}
}

// Open connects to the database at dsn, creates the table if needed and
// starts the writer. The returned journal owns the pool.
func Open(ctx context.Context, dsn string, opts ...Option) (*Journal, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	j := New(pool, opts...)
	j.release = pool.Close
	return j, nil
}

// Migrate creates the journal table and index if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// New starts a journal writing to db. The caller keeps ownership of db.
func New(db DB, opts ...Option) *Journal {
	j := &Journal{
		db:        db,
		sessionID: time.Now().UTC().Format(time.RFC3339),
		queue:     make(chan entry, DefaultQueueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	go j.run()
	return j
}

// SessionID returns the id written with every row.
func (j *Journal) SessionID() string { return j.sessionID }

// Record queues t for writing. It never blocks; if the queue is full or the
// journal is closed the turn is dropped with a warning.
func (j *Journal) Record(t session.Turn) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	j.seq++
	select {
	case j.queue <- entry{seq: j.seq, turn: t}:
	default:
		j.dropped.Add(1)
		slog.Warn("journal: queue full, dropping turn", "speaker", t.Speaker.String(), "seq", j.seq)
	}
}

// Written returns the number of turns stored successfully.
func (j *Journal) Written() int64 { return j.written.Load() }

// Dropped returns the number of turns that were not stored.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Ping checks that the database answers. It serves as a readiness check.
func (j *Journal) Ping(ctx context.Context) error {
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return j.db.Ping(ctx)
}

// Close stops accepting turns and waits until the queued ones are written
// or ctx expires. Turns still queued when ctx expires are dropped. Close
// releases the pool if the journal was created by [Open].
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()

	var err error
	select {
	case <-j.done:
	case <-ctx.Done():
		err = fmt.Errorf("journal: close: %w", ctx.Err())
	}
	if j.release != nil {
		j.release()
		j.release = nil
	}
	return err
}

func (j *Journal) run() {
	defer close(j.done)
	for e := range j.queue {
		j.write(e)
	}
}

func (j *Journal) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := j.db.Exec(ctx, insertTurn, j.sessionID, e.seq, e.turn.Speaker.String(), e.turn.Text, e.turn.Timestamp)
	if err != nil {
		j.dropped.Add(1)
		slog.Warn("journal: write failed, dropping turn", "seq", e.seq, "err", err)
		return
	}
	j.written.Add(1)
}
