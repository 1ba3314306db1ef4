// Package pool reports and resizes the database connection pool shown on the
// dashboard, either by relaying to the workload service or from a pool the
// dashboard opens itself.
package pool

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/loadtoy/dashboard/internal/target"
)

// Status is {active, idle, pending, max}.
type Status = target.PoolStatus

type Source interface {
	Status(ctx context.Context) (Status, error)
	Size(ctx context.Context) (int, error)
	SetSize(ctx context.Context, size int) (int, error)
}

const (
	SourceNone     = "none"
	SourceHTTP     = "http"
	SourceMySQL    = "mysql"
	SourcePostgres = "postgres"
)

// ErrDisabled is returned by every call when no pool source is configured.
var ErrDisabled = errors.New("pool status source is disabled")

// New builds the source named kind. The http source relays through client;
// the SQL sources open dsn lazily.
func New(kind, dsn string, client target.Client) (Source, error) {
	switch strings.ToLower(kind) {
	case "", SourceNone:
		return disabled{}, nil
	case SourceHTTP:
		if client == nil {
			return nil, errors.New("http pool source needs a target client")
		}
		return &HTTPSource{client: client}, nil
	case SourceMySQL, SourcePostgres:
		src, err := OpenSQL(strings.ToLower(kind), dsn)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, errors.Errorf("unknown pool source %q", kind)
}

type disabled struct{}

func (disabled) Status(context.Context) (Status, error)    { return Status{}, ErrDisabled }
func (disabled) Size(context.Context) (int, error)         { return 0, ErrDisabled }
func (disabled) SetSize(context.Context, int) (int, error) { return 0, ErrDisabled }

// HTTPSource relays to the workload service.
type HTTPSource struct {
	client target.Client
}

func NewHTTPSource(client target.Client) *HTTPSource {
	return &HTTPSource{client: client}
}

func (s *HTTPSource) Status(ctx context.Context) (Status, error) {
	return s.client.PoolStatus(ctx)
}

func (s *HTTPSource) Size(ctx context.Context) (int, error) {
	return s.client.PoolSize(ctx)
}

func (s *HTTPSource) SetSize(ctx context.Context, size int) (int, error) {
	return s.client.SetPoolSize(ctx, size)
}

// SQLSource reports the dashboard's own database/sql pool against the
// workload database. Pending is the number of connection waits since the
// previous Status call.
type SQLSource struct {
	db *sql.DB

	mu        sync.Mutex
	lastWaits int64
}

func OpenSQL(driver, dsn string) (*SQLSource, error) {
	if dsn == "" {
		return nil, errors.Errorf("%s pool source needs a dsn", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s pool", driver)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return &SQLSource{db: db}, nil
}

func (s *SQLSource) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	stats := s.db.Stats()

	s.mu.Lock()
	pending := stats.WaitCount - s.lastWaits
	s.lastWaits = stats.WaitCount
	s.mu.Unlock()

	return Status{
		Active:  float64(stats.InUse),
		Idle:    float64(stats.Idle),
		Pending: float64(pending),
		Max:     float64(stats.MaxOpenConnections),
	}, nil
}

func (s *SQLSource) Size(ctx context.Context) (int, error) {
	return s.db.Stats().MaxOpenConnections, nil
}

func (s *SQLSource) SetSize(ctx context.Context, size int) (int, error) {
	if size < 1 {
		return 0, errors.Errorf("pool size must be >= 1, got %d", size)
	}
	s.db.SetMaxOpenConns(size)
	s.db.SetMaxIdleConns(size)
	return size, nil
}

// Ping checks the database is reachable.
func (s *SQLSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLSource) Close() error {
	return s.db.Close()
}
