package target

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MockClient serves canned values, for running the dashboard without a
// workload service.
type MockClient struct {
	mu      sync.Mutex
	running bool
	orders  int64
	pool    PoolStatus
	Err     error
}

func NewMockClient() *MockClient {
	return &MockClient{
		orders: 1000,
		pool:   PoolStatus{Active: 2, Idle: 8, Pending: 0, Max: 10},
	}
}

func (c *MockClient) AppStatus(ctx context.Context) (AppStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return AppStatus{}, c.Err
	}
	return AppStatus{Running: c.running}, nil
}

func (c *MockClient) DBStatus(ctx context.Context) (DBStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return DBStatus{}, c.Err
	}
	return DBStatus{OrderCount: c.orders, Status: "connected"}, nil
}

func (c *MockClient) PoolStatus(ctx context.Context) (PoolStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return PoolStatus{}, c.Err
	}
	return c.pool, nil
}

func (c *MockClient) PoolSize(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	return int(c.pool.Max), nil
}

func (c *MockClient) SetPoolSize(ctx context.Context, size int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	if size < 1 {
		return 0, errors.Errorf("pool size must be >= 1, got %d", size)
	}
	c.pool.Max = float64(size)
	if c.pool.Idle+c.pool.Active > c.pool.Max {
		c.pool.Idle = c.pool.Max - c.pool.Active
		if c.pool.Idle < 0 {
			c.pool.Idle = 0
		}
	}
	return size, nil
}

// SetRunning flips the reported app status.
func (c *MockClient) SetRunning(running bool) {
	c.mu.Lock()
	c.running = running
	c.mu.Unlock()
}
