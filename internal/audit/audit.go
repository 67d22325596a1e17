// Package audit implements C10, a best-effort sqlite-backed record of
// completed/failed/cancelled commands for post-hoc operator inspection.
// It has no bearing on the hard core's correctness: writes are
// asynchronous and failures are logged and swallowed.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"

	"github.com/hrygo/dbgtoolsrv/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	text        TEXT NOT NULL,
	state       TEXT NOT NULL,
	queued_at   DATETIME NOT NULL,
	started_at  DATETIME,
	completed_at DATETIME,
	result_excerpt TEXT,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_commands_session ON commands(session_id);
CREATE INDEX IF NOT EXISTS idx_commands_queued_at ON commands(queued_at);
`

// maxResultExcerptBytes bounds how much of a command's result text is
// retained; the audit trail is a diagnostic mirror, not primary storage.
const maxResultExcerptBytes = 4096

// Record is one row of the commands table (spec §3's Audit Record).
type Record struct {
	ID            string
	SessionID     string
	Text          string
	State         string
	QueuedAt      time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
	ResultExcerpt string
	Error         string
}

// Filter scopes a Query; zero values mean "no restriction".
type Filter struct {
	SessionID string
	State     string
	Since     time.Time
	Limit     int
}

// Trail is the C10 write-behind audit sink.
type Trail struct {
	db      *sql.DB
	log     *logging.Logger
	records chan Record
	done    chan struct{}
}

// Open creates/migrates the sqlite database at path and starts the
// background writer goroutine. bufferSize bounds in-flight records
// before Record() starts dropping with a logged warning (never blocks
// the hot path).
func Open(path string, bufferSize int, log *logging.Logger) (*Trail, error) {
	if log == nil {
		log = logging.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open audit database")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "set pragma: %s", pragma)
		}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate audit schema")
	}

	t := &Trail{
		db:      db,
		log:     log,
		records: make(chan Record, bufferSize),
		done:    make(chan struct{}),
	}
	go t.writeLoop()
	return t, nil
}

// Record queues rec for asynchronous persistence. Never blocks: if the
// buffer is full the record is dropped and logged, since the audit
// trail must never affect hot-path latency.
func (t *Trail) Record(rec Record) {
	if len(rec.ResultExcerpt) > maxResultExcerptBytes {
		rec.ResultExcerpt = rec.ResultExcerpt[:maxResultExcerptBytes]
	}
	select {
	case t.records <- rec:
	default:
		t.log.Warn("audit trail buffer full, dropping record", "command_id", rec.ID)
	}
}

func (t *Trail) writeLoop() {
	for rec := range t.records {
		if err := t.insert(rec); err != nil {
			t.log.Warn("audit write failed", "command_id", rec.ID, "error", err)
		}
	}
	close(t.done)
}

func (t *Trail) insert(rec Record) error {
	_, err := t.db.Exec(
		`INSERT OR REPLACE INTO commands
			(id, session_id, text, state, queued_at, started_at, completed_at, result_excerpt, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Text, rec.State, rec.QueuedAt, rec.StartedAt, rec.CompletedAt, rec.ResultExcerpt, rec.Error,
	)
	return err
}

// Query reads matching records, newest first, read-only and off the
// command hot path — used by the `dbgtoolsrv audit query` CLI.
func (t *Trail) Query(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT id, session_id, text, state, queued_at, started_at, completed_at, result_excerpt, error FROM commands WHERE 1=1`
	var args []any

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}
	if !filter.Since.IsZero() {
		query += " AND queued_at >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY queued_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query audit trail")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var started, completed sql.NullTime
		var resultExcerpt, errText sql.NullString
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Text, &r.State, &r.QueuedAt, &started, &completed, &resultExcerpt, &errText); err != nil {
			return nil, errors.Wrap(err, "scan audit row")
		}
		r.StartedAt = started.Time
		r.CompletedAt = completed.Time
		r.ResultExcerpt = resultExcerpt.String
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close stops the writer goroutine (draining any buffered records) and
// closes the database.
func (t *Trail) Close() error {
	close(t.records)
	<-t.done
	return t.db.Close()
}
