// Package target talks to the workload service the load generators hit.
package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Client is the part of the workload service the dashboard relays.
type Client interface {
	AppStatus(ctx context.Context) (AppStatus, error)
	DBStatus(ctx context.Context) (DBStatus, error)
	PoolStatus(ctx context.Context) (PoolStatus, error)
	PoolSize(ctx context.Context) (int, error)
	SetPoolSize(ctx context.Context, size int) (int, error)
}

// AppStatus reports whether the workload service's own background load is active.
type AppStatus struct {
	Running bool `json:"running"`
}

// DBStatus is the service's view of its database.
type DBStatus struct {
	OrderCount int64  `json:"orderCount"`
	Status     string `json:"status"`
}

// PoolStatus is the service's database connection pool as it reports it.
type PoolStatus struct {
	Active  float64 `json:"active"`
	Idle    float64 `json:"idle"`
	Pending float64 `json:"pending"`
	Max     float64 `json:"max"`
}

// ErrNotConfigured is returned by every call of a client without a base URL.
var ErrNotConfigured = errors.New("workload target is not configured")

// HTTPClient is the real client.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient does not contact the target; an unreachable target only
// fails the calls that need it.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) AppStatus(ctx context.Context) (AppStatus, error) {
	var status AppStatus
	err := c.do(ctx, http.MethodGet, "/api/dashboard/app/status", nil, &status)
	return status, err
}

func (c *HTTPClient) DBStatus(ctx context.Context) (DBStatus, error) {
	var status DBStatus
	err := c.do(ctx, http.MethodGet, "/api/dashboard/db/status", nil, &status)
	return status, err
}

func (c *HTTPClient) PoolStatus(ctx context.Context) (PoolStatus, error) {
	var status PoolStatus
	err := c.do(ctx, http.MethodGet, "/api/dashboard/db/pool-status", nil, &status)
	return status, err
}

type poolSizeBody struct {
	MaxPoolSize int `json:"maxPoolSize"`
}

func (c *HTTPClient) PoolSize(ctx context.Context) (int, error) {
	var body poolSizeBody
	if err := c.do(ctx, http.MethodGet, "/api/workload/db/pool-size", nil, &body); err != nil {
		return 0, err
	}
	return body.MaxPoolSize, nil
}

func (c *HTTPClient) SetPoolSize(ctx context.Context, size int) (int, error) {
	if size < 1 {
		return 0, errors.Errorf("pool size must be >= 1, got %d", size)
	}
	var body poolSizeBody
	if err := c.do(ctx, http.MethodPost, "/api/workload/db/pool-size", poolSizeBody{MaxPoolSize: size}, &body); err != nil {
		return 0, err
	}
	return body.MaxPoolSize, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}
