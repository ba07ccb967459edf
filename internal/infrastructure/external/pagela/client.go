// Package pagela implements the HTTP client of the remote pagela store.
// This package handles all communication with the store: academic periods,
// clubs, children and attendance records. Failed calls are classified once,
// here, into shared.RemoteError kinds.
package pagela

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pagela-hub/pagela-hub/internal/domain/attendance"
	"github.com/pagela-hub/pagela-hub/internal/domain/calendar"
	"github.com/pagela-hub/pagela-hub/internal/domain/shared"
	"github.com/pagela-hub/pagela-hub/internal/infrastructure/external/pagination"
	"github.com/pagela-hub/pagela-hub/pkg/logger"
	"github.com/pagela-hub/pagela-hub/pkg/ratelimit"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the store client.
type ClientConfig struct {
	// BaseURL is the store base URL, e.g. https://api.example.org
	BaseURL string

	// Token is sent as a bearer token when set
	Token string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimit configures the token bucket awaited before every request
	RateLimit ratelimit.Config

	// Clock drives the token bucket (nil = wall clock)
	Clock ratelimit.Clock

	// PageSize is the page size of full scans
	PageSize int

	// MaxPages caps every crawl
	MaxPages int

	// PageDelay is the minimum pause between pages of one crawl
	PageDelay time.Duration

	// Location is the timezone timestamps are converted to before taking
	// their calendar date
	Location *time.Location

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables request logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		Timeout:   30 * time.Second,
		RateLimit: ratelimit.DefaultConfig(),
		PageSize:  100,
		MaxPages:  pagination.DefaultMaxPages,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the pagela store API client.
type Client struct {
	config     ClientConfig
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *ratelimit.TokenBucket
	mapper     *Mapper
}

// NewClient creates a new store client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}

	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  config.Logger.With(logger.Component("pagela_client")),
		limiter: ratelimit.NewTokenBucket(config.RateLimit, config.Clock),
		mapper:  NewMapper(config.Location),
	}
}

// crawlOptions returns the crawl options of a collection endpoint.
func (c *Client) crawlOptions(limit int) pagination.Options {
	var pacer ratelimit.Limiter
	if c.config.PageDelay > 0 {
		pacer = ratelimit.NewInterval(c.config.PageDelay, c.config.Clock)
	}

	return pagination.Options{
		Limit:    limit,
		MaxPages: c.config.MaxPages,
		Pacer:    pacer,
		Logger:   c.logger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetPeriod fetches the academic period of year. It returns (nil, nil) when
// the store has none.
func (c *Client) GetPeriod(ctx context.Context, year int) (*calendar.Period, error) {
	path := fmt.Sprintf("/period/%d", year)

	body, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		var remoteErr *shared.RemoteError
		if errors.As(err, &remoteErr) && remoteErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get period %d: %w", year, err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var envelope periodEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("get period %d: %w", year, decodeError(http.StatusOK, err))
	}

	dto := &envelope.PeriodDTO
	if envelope.Data != nil {
		dto = envelope.Data
	}
	if dto.IsEmpty() {
		return nil, nil
	}

	return c.mapper.PeriodFromDTO(dto, year), nil
}

// CreatePeriod creates an academic period.
func (c *Client) CreatePeriod(ctx context.Context, p calendar.Period) (*calendar.Period, error) {
	var envelope periodEnvelope
	if err := c.doRequest(ctx, http.MethodPost, "/period", nil, c.mapper.PeriodToRequest(p), &envelope); err != nil {
		return nil, fmt.Errorf("create period %d: %w", p.Year, err)
	}

	dto := &envelope.PeriodDTO
	if envelope.Data != nil {
		dto = envelope.Data
	}
	if dto.IsEmpty() {
		// Some deployments answer 201 with an empty body.
		created := p
		return &created, nil
	}
	return c.mapper.PeriodFromDTO(dto, p.Year), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLUB AND CHILD OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ListClubs fetches every club. Clubs that cannot be mapped (for example
// an unknown weekday) are logged and left out.
func (c *Client) ListClubs(ctx context.Context) ([]attendance.Club, error) {
	items, err := pagination.FetchAll(ctx, c, http.MethodGet, "/clubs", nil, c.crawlOptions(0))
	if err != nil {
		return nil, fmt.Errorf("list clubs: %w", err)
	}

	clubs := make([]attendance.Club, 0, len(items))
	for _, item := range items {
		var dto ClubDTO
		if err := json.Unmarshal(item, &dto); err != nil {
			c.logger.Warn("skipping undecodable club", logger.Err(err))
			continue
		}

		club, err := c.mapper.ClubFromDTO(&dto)
		if err != nil {
			c.logger.Warn("skipping club", logger.ClubID(dto.ID.String()), logger.Err(err))
			continue
		}
		clubs = append(clubs, club)
	}

	return clubs, nil
}

// ListChildren fetches every child, handling pagination.
func (c *Client) ListChildren(ctx context.Context) ([]attendance.Child, error) {
	items, err := pagination.FetchAll(ctx, c, http.MethodGet, "/children", nil, c.crawlOptions(c.config.PageSize))
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	children := make([]attendance.Child, 0, len(items))
	for _, item := range items {
		var dto ChildDTO
		if err := json.Unmarshal(item, &dto); err != nil {
			c.logger.Warn("skipping undecodable child", logger.Err(err))
			continue
		}

		child, err := c.mapper.ChildFromDTO(&dto)
		if err != nil {
			c.logger.Warn("skipping child", logger.Err(err))
			continue
		}
		children = append(children, child)
	}

	return children, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

func attendanceParams(childID shared.ChildID, year int) url.Values {
	return url.Values{
		"childId": {childID.String()},
		"year":    {strconv.Itoa(year)},
	}
}

// CountAttendance asks for the number of records of a child in year with
// a single one-item page. known is false when the response carries no
// total.
func (c *Client) CountAttendance(ctx context.Context, childID shared.ChildID, year int) (count int, known bool, err error) {
	params := attendanceParams(childID, year)
	params.Set("page", "1")
	params.Set("limit", "1")

	body, err := c.Do(ctx, http.MethodGet, "/attendance", params)
	if err != nil {
		return 0, false, fmt.Errorf("count attendance of %s: %w", childID, err)
	}

	count, known = pagination.TotalItems(body)
	return count, known, nil
}

// ListAttendance fetches every record of a child in year. Records the
// store returns for another child or year are dropped.
func (c *Client) ListAttendance(ctx context.Context, childID shared.ChildID, year int) ([]attendance.ExistingRecord, error) {
	items, err := pagination.FetchAll(ctx, c, http.MethodGet, "/attendance",
		attendanceParams(childID, year), c.crawlOptions(c.config.PageSize))
	if err != nil {
		return nil, fmt.Errorf("list attendance of %s: %w", childID, err)
	}

	records := make([]attendance.ExistingRecord, 0, len(items))
	for _, item := range items {
		var dto AttendanceDTO
		if err := json.Unmarshal(item, &dto); err != nil {
			continue
		}

		rec, err := c.mapper.RecordFromDTO(&dto)
		if err != nil {
			continue
		}
		if (rec.ChildID != "" && rec.ChildID != childID) || (rec.Year != 0 && rec.Year != year) {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// CreateAttendance creates one record. Duplicate rejections come back as a
// shared.RemoteError of kind KindConflict.
func (c *Client) CreateAttendance(ctx context.Context, rec *attendance.Record) error {
	if err := c.doRequest(ctx, http.MethodPost, "/attendance", nil, c.mapper.RecordToRequest(rec), nil); err != nil {
		return fmt.Errorf("create attendance week %d of %s: %w", rec.Week, rec.ChildID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// Do performs a request and returns the raw body. It implements
// pagination.Requester.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, method, path, params, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// doRequest waits for the rate limiter and performs a single request.
// Failed calls are not repeated.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	err := c.doSingleRequest(ctx, method, path, params, body, result)

	var remoteErr *shared.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.Status == http.StatusTooManyRequests {
		c.limiter.RecordRateLimitHit(retryAfterOf(remoteErr))
	}
	return err
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, params url.Values, body, result interface{}) error {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.config.Debug {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Debug("pagela api request",
			logger.Operation(method+" "+path),
			slog.String("query", params.Encode()),
			slog.Int("status", status),
			logger.Latency(time.Since(start)),
		)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classifyTransport(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		remoteErr := classifyResponse(resp.StatusCode, respBody)
		if resp.StatusCode == http.StatusTooManyRequests {
			remoteErr.Err = retryAfterError(resp.Header.Get("Retry-After"))
		}
		return remoteErr
	}

	if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if raw, ok := result.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respBody...)
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return decodeError(resp.StatusCode, err)
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMIT RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

const defaultRetryAfter = 60 * time.Second

// retryAfterError carries the Retry-After hint of a 429 response.
func retryAfterError(header string) error {
	retryAfter := defaultRetryAfter
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds >= 0 {
		retryAfter = time.Duration(seconds) * time.Second
	}
	return &ratelimit.RateLimitError{RetryAfter: retryAfter}
}

func retryAfterOf(err error) time.Duration {
	var rlErr *ratelimit.RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.RetryAfter
	}
	return defaultRetryAfter
}
