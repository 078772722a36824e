package rate_limiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var _ CounterBackend = &RESTBackend{}

const restBackendName = "rest"

// RESTBackend runs the same sliding window as RedisBackend against a Redis-compatible HTTPS
// endpoint that accepts a transaction as a JSON array of commands on /multi-exec.
type RESTBackend struct {
	url    string
	token  string
	prefix  string
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// RESTOption configures a RESTBackend.
type RESTOption func(*RESTBackend)

// WithHTTPClient replaces the default client. Checks stay bounded by the backend timeout.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(b *RESTBackend) {
		if c != nil {
			b.client = c
		}
	}
}

// WithRESTTimeout bounds each check, independently of the client's own Timeout.
func WithRESTTimeout(d time.Duration) RESTOption {
	return func(b *RESTBackend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithRESTKeyPrefix(prefix string) RESTOption {
	return func(b *RESTBackend) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

func WithRESTClock(now func() time.Time) RESTOption {
	return func(b *RESTBackend) {
		if now != nil {
			b.now = now
		}
	}
}

// NewRESTBackend creates a backend for the endpoint at url authenticated by a bearer token.
func NewRESTBackend(url, token string, opts ...RESTOption) (*RESTBackend, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("rest backend url is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("rest backend token is required")
	}

	b := &RESTBackend{
		url:    strings.TrimRight(url, "/"),
		token:  token,
		prefix:  DefaultKeyPrefix,
		client:  &http.Client{Timeout: DefaultRemoteTimeout},
		timeout: DefaultRemoteTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *RESTBackend) Name() string {
	return restBackendName
}

type restResult struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Check issues the prune, count, insert and expire commands as one transaction. The second
// result is the count before this attempt was inserted.
func (b *RESTBackend) Check(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	now := b.now()
	redisKey := b.prefix + key
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)

	commands := [][]string{
		{"ZREMRANGEBYSCORE", redisKey, "0", strconv.FormatInt(now.Add(-window).UnixMilli(), 10)},
		{"ZCARD", redisKey},
		{"ZADD", redisKey, nowMs, member(now)},
		{"PEXPIRE", redisKey, strconv.FormatInt(window.Milliseconds(), 10)},
	}

	results, err := b.exec(ctx, commands)
	if err != nil {
		return false, newBackendError(b.Name(), err)
	}
	if len(results) < len(commands) {
		return false, newBackendError(b.Name(), fmt.Errorf("expected %d results, got %d", len(commands), len(results)))
	}
	for i, r := range results {
		if r.Error != "" {
			return false, newBackendError(b.Name(), fmt.Errorf("command %s: %s", commands[i][0], r.Error))
		}
	}

	var current *int64
	if err := json.Unmarshal(results[1].Result, &current); err != nil {
		return false, newBackendError(b.Name(), fmt.Errorf("decode count: %w", err))
	}
	if current == nil {
		return false, newBackendError(b.Name(), errors.New("missing count result"))
	}

	return *current < maxRequests, nil
}

func (b *RESTBackend) exec(ctx context.Context, commands [][]string) ([]restResult, error) {
	body, err := json.Marshal(commands)
	if err != nil {
		return nil, fmt.Errorf("encode commands: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/multi-exec", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var results []restResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return results, nil
}
