package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/iq-capture/internal/iq"
)

// DefaultFlushFrames is the number of appended frames after which pending rows are
// committed
const DefaultFlushFrames = 64

// ErrNotProvisioned is returned by Append for a direction without antenna tables
var ErrNotProvisioned = errors.New("direction is not provisioned")

// WithFlushFrames sets how many frames are appended between commits
func WithFlushFrames(n int) func(*SqliteCapture) {
	return func(c *SqliteCapture) {
		if n > 0 {
			c.flushFrames = n
		}
	}
}

type groupState struct {
	antennas  int
	frames    int64
	committed int64
}

// SqliteCapture is a Capture backed by a SQLite database file
type SqliteCapture struct {
	path    string
	db      *sql.DB
	session Session

	flushFrames int
	groups      [len(iq.Directions)]groupState

	tx      *sql.Tx
	stmts   map[string]*sql.Stmt // insert statements of the open transaction
	pending int
	rows    uint64

	closeOnce sync.Once
	closeErr  error
}

var _ Capture = (*SqliteCapture)(nil)

// NewCreator returns a Creator of SQLite capture files
func NewCreator(options ...func(*SqliteCapture)) Creator {
	return func(ctx context.Context, path, name string) (Capture, error) {
		return CreateCapture(ctx, path, name, options...)
	}
}

// CreateCapture creates a new capture file at path. It fails if the file exists.
// The session groups are created immediately, the antenna tables on Provision.
func CreateCapture(ctx context.Context, path, name string, options ...func(*SqliteCapture)) (c *SqliteCapture, err error) {
	if _, err = os.Stat(path); err == nil {
		return nil, fmt.Errorf("capture file %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("checking capture file: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, "_journal_mode=WAL&_synchronous=NORMAL"))
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}

	// the capture is written by a single goroutine; one connection keeps the
	// open transaction and every statement on it
	db.SetMaxOpenConns(1)

	c = &SqliteCapture{
		path: path,
		db:   db,
		session: Session{
			ID:        uuid.New(),
			Name:      name,
			StartedAt: time.Now().UTC(),
		},
		flushFrames: DefaultFlushFrames,
	}

	for _, option := range options {
		option(c)
	}

	if err = c.init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing capture file: %w", err)
	}

	return c, nil
}

func (c *SqliteCapture) init(ctx context.Context) (err error) {
	// a cancelled ctx must not roll the transaction back behind our back
	tx, err := c.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if _, err = tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	if _, err = tx.ExecContext(ctx, insertSessionSQL, c.session.ID.String(), c.session.Name, c.session.StartedAt); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	for _, d := range iq.Directions {
		if _, err = tx.ExecContext(ctx, insertGroupSQL, d.Group(), d.String()); err != nil {
			return fmt.Errorf("inserting group %s: %w", d.Group(), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (c *SqliteCapture) Session() Session {
	return c.session
}

func (c *SqliteCapture) Path() string {
	return c.path
}

func (c *SqliteCapture) Antennas(d iq.Direction) int {
	return c.groups[d].antennas
}

func (c *SqliteCapture) Rows() uint64 {
	return c.rows
}

func (c *SqliteCapture) Provision(ctx context.Context, d iq.Direction, antennas int) (err error) {
	if antennas <= 0 {
		return fmt.Errorf("provisioning %s: antenna count must be positive, got %d", d.Group(), antennas)
	}

	g := &c.groups[d]
	if g.antennas != 0 {
		if g.antennas != antennas {
			return &SchemaMismatchError{Direction: d, Want: g.antennas, Got: antennas}
		}
		return nil
	}

	// table creation gets its own transaction
	if err = c.Flush(ctx); err != nil {
		return err
	}

	// a cancelled ctx must not roll the transaction back behind our back
	tx, err := c.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	for i := 0; i < antennas; i++ {
		table := TableName(d, i)
		if _, err = tx.ExecContext(ctx, fmt.Sprintf(createAntennaTableSQL, quoteIdent(table))); err != nil {
			return fmt.Errorf("creating table %s: %w", table, err)
		}
	}

	if _, err = tx.ExecContext(ctx, provisionGroupSQL, antennas, d.Group()); err != nil {
		return fmt.Errorf("updating group %s: %w", d.Group(), err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	g.antennas = antennas
	return nil
}

func (c *SqliteCapture) Append(ctx context.Context, f *iq.Frame) (rows int, err error) {
	n := f.AntennaCount()
	if n == 0 {
		return 0, nil
	}

	g := &c.groups[f.Direction]
	switch {
	case g.antennas == 0:
		return 0, fmt.Errorf("appending %s frame: %w", f.Direction, ErrNotProvisioned)
	case g.antennas != n:
		return 0, &SchemaMismatchError{Direction: f.Direction, Want: g.antennas, Got: n}
	}

	if err = c.begin(ctx); err != nil {
		return 0, err
	}

	// a frame is written whole or not at all
	if _, err = c.tx.ExecContext(context.WithoutCancel(ctx), savepointFrameSQL); err != nil {
		return 0, fmt.Errorf("opening frame savepoint: %w", err)
	}

	if rows, err = c.insertFrame(ctx, f); err != nil {
		if _, rbErr := c.tx.ExecContext(context.WithoutCancel(ctx), rollbackFrameSQL); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rolling back frame: %w", rbErr))
		}
		return 0, err
	}

	if _, err = c.tx.ExecContext(context.WithoutCancel(ctx), releaseFrameSQL); err != nil {
		return 0, fmt.Errorf("releasing frame savepoint: %w", err)
	}

	c.rows += uint64(rows)
	g.frames++
	c.pending++

	if c.pending >= c.flushFrames {
		if err = c.Flush(ctx); err != nil {
			return rows, err
		}
	}

	return rows, nil
}

func (c *SqliteCapture) begin(ctx context.Context) (err error) {
	if c.tx != nil {
		return nil
	}

	// the batch outlives the ctx of the frame that opened it, Close commits it
	if c.tx, err = c.db.BeginTx(context.WithoutCancel(ctx), nil); err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	c.stmts = make(map[string]*sql.Stmt)

	return nil
}

func (c *SqliteCapture) insertFrame(ctx context.Context, f *iq.Frame) (rows int, err error) {
	ts := toSQLTimestamp(f.Timestamp)
	for i, samples := range f.Antennas {
		stmt, err := c.insertStmt(ctx, f.Direction, i)
		if err != nil {
			return rows, err
		}

		for count, s := range samples {
			if _, err = stmt.ExecContext(ctx, ts, int32(count), s.Real, s.Imag); err != nil {
				return rows, fmt.Errorf("inserting row into %s: %w", TableName(f.Direction, i), err)
			}
			rows++
		}
	}
	return rows, nil
}

func (c *SqliteCapture) insertStmt(ctx context.Context, d iq.Direction, antenna int) (*sql.Stmt, error) {
	table := TableName(d, antenna)
	if stmt, ok := c.stmts[table]; ok {
		return stmt, nil
	}

	stmt, err := c.tx.PrepareContext(ctx, fmt.Sprintf(insertRowSQL, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("preparing insert into %s: %w", table, err)
	}

	c.stmts[table] = stmt
	return stmt, nil
}

func (c *SqliteCapture) Flush(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}

	tx := c.tx
	c.tx, c.stmts, c.pending = nil, nil, 0

	for _, d := range iq.Directions {
		g := &c.groups[d]
		if g.frames == g.committed {
			continue
		}
		if _, err := tx.ExecContext(context.WithoutCancel(ctx), updateGroupFramesSQL, g.frames, d.Group()); err != nil {
			return errors.Join(fmt.Errorf("updating group %s: %w", d.Group(), err), tx.Rollback())
		}
	}

	// statements prepared on the transaction are closed by the commit
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	for _, d := range iq.Directions {
		c.groups[d].committed = c.groups[d].frames
	}

	return nil
}

func (c *SqliteCapture) Close() error {
	c.closeOnce.Do(func() {
		ctx := context.Background()

		flushErr := c.Flush(ctx)

		var sessionErr error
		if _, err := c.db.ExecContext(ctx, closeSessionSQL, time.Now().UTC(), c.session.ID.String()); err != nil {
			sessionErr = fmt.Errorf("closing session: %w", err)
		}

		c.closeErr = errors.Join(flushErr, sessionErr, c.db.Close())
	})

	return c.closeErr
}
