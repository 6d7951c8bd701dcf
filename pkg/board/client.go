// Package board is a GraphQL client for the project-management board API.
// Every call is retried with exponential backoff and each attempt is
// independently time-bounded.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/factor-relay/internal/model"
	"github.com/sells-group/factor-relay/internal/resilience"
)

const (
	defaultBaseURL        = "https://api.monday.com/v2"
	defaultAPIVersion     = "2024-10"
	defaultAttemptTimeout = 30 * time.Second
	defaultPageSize       = 100
	defaultRateLimit      = 5

	// maxErrorBody bounds how much of a failed response ends up in errors.
	maxErrorBody = 512
)

// Client reads and writes item column values on the remote board.
type Client interface {
	// FetchColumnValue returns the text of the column on the item. ok is
	// false when the item or column does not exist or has no value.
	FetchColumnValue(ctx context.Context, itemID, columnID string) (text string, ok bool, err error)
	// WriteColumnValue sets the column to value and reports whether the
	// service acknowledged the change.
	WriteColumnValue(ctx context.Context, itemID, columnID, value, boardID string) (bool, error)
	// FetchItem returns a snapshot of the item. An empty boardID skips the
	// board membership check.
	FetchItem(ctx context.Context, itemID, boardID string) (*model.RemoteItem, error)
	// FetchBoardItems returns every item on the board, following pagination.
	FetchBoardItems(ctx context.Context, boardID string) ([]model.RemoteItem, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default GraphQL endpoint.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithAPIVersion overrides the API-Version header.
func WithAPIVersion(v string) Option {
	return func(c *httpClient) {
		c.apiVersion = v
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithRateLimit throttles outgoing requests to rps per second. Zero or a
// negative value disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithPageSize sets the items_page limit used by FetchBoardItems.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

type httpClient struct {
	token          string
	baseURL        string
	apiVersion     string
	http           *http.Client
	retry          resilience.RetryConfig
	attemptTimeout time.Duration
	limiter        *rate.Limiter
	pageSize       int
}

// NewClient creates a board API client. The returned client holds no
// mutable state besides its rate limiter and is safe for concurrent use.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:          token,
		baseURL:        defaultBaseURL,
		apiVersion:     defaultAPIVersion,
		retry:          resilience.DefaultRetryConfig(),
		attemptTimeout: defaultAttemptTimeout,
		limiter:        rate.NewLimiter(defaultRateLimit, defaultRateLimit),
		pageSize:       defaultPageSize,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) FetchColumnValue(ctx context.Context, itemID, columnID string) (string, bool, error) {
	var data itemsData
	_, err := c.do(ctx, "fetch_column_value", columnValueQuery, map[string]any{
		"itemId":   []string{itemID},
		"columnId": []string{columnID},
	}, &data)
	if err != nil {
		return "", false, err
	}

	if len(data.Items) == 0 {
		return "", false, nil
	}
	it := data.Items[0].toModel("")
	cv, ok := it.Column(columnID)
	if !ok || cv.Text == "" {
		return "", false, nil
	}
	return cv.Text, true, nil
}

func (c *httpClient) WriteColumnValue(ctx context.Context, itemID, columnID, value, boardID string) (bool, error) {
	var data changeColumnData
	_, err := c.do(ctx, "write_column_value", changeColumnValueMutation, map[string]any{
		"boardId":  boardID,
		"itemId":   itemID,
		"columnId": columnID,
		"value":    value,
	}, &data)
	if err != nil {
		return false, err
	}
	return data.ChangeSimpleColumnValue != nil && data.ChangeSimpleColumnValue.ID != "", nil
}

func (c *httpClient) FetchItem(ctx context.Context, itemID, boardID string) (*model.RemoteItem, error) {
	const op = "fetch_item"

	var data itemsData
	attempts, err := c.do(ctx, op, itemQuery, map[string]any{
		"itemId": []string{itemID},
	}, &data)
	if err != nil {
		return nil, err
	}

	if len(data.Items) == 0 {
		return nil, &Error{Kind: KindNotFound, Op: op, Attempts: attempts, Err: eris.Errorf("board: item %s not found", itemID)}
	}
	it := data.Items[0].toModel(boardID)
	if boardID != "" && it.BoardID != boardID {
		return nil, &Error{Kind: KindNotFound, Op: op, Attempts: attempts, Err: eris.Errorf("board: item %s is not on board %s", itemID, boardID)}
	}
	return &it, nil
}

func (c *httpClient) FetchBoardItems(ctx context.Context, boardID string) ([]model.RemoteItem, error) {
	const op = "fetch_board_items"

	var first boardsData
	attempts, err := c.do(ctx, op, boardItemsQuery, map[string]any{
		"boardId": []string{boardID},
		"limit":   c.pageSize,
	}, &first)
	if err != nil {
		return nil, err
	}
	if len(first.Boards) == 0 {
		return nil, &Error{Kind: KindNotFound, Op: op, Attempts: attempts, Err: eris.Errorf("board: board %s not found", boardID)}
	}

	page := first.Boards[0].ItemsPage
	var items []model.RemoteItem
	for {
		for _, w := range page.Items {
			items = append(items, w.toModel(boardID))
		}
		cursor := deref(page.Cursor)
		if cursor == "" {
			break
		}

		var next nextPageData
		if _, err := c.do(ctx, op, nextItemsPageQuery, map[string]any{
			"cursor": cursor,
			"limit":  c.pageSize,
		}, &next); err != nil {
			return nil, err
		}
		page = next.NextItemsPage
	}

	zap.L().Debug("board: fetched board items",
		zap.String("board_id", boardID),
		zap.Int("items", len(items)),
	)
	return items, nil
}

// do runs one GraphQL operation under the retry policy and decodes the data
// field into out. It returns the number of attempts made.
func (c *httpClient) do(ctx context.Context, op, query string, vars map[string]any, out any) (int, error) {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return 0, eris.Wrap(err, "board: marshal request")
	}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("board", op)
	}

	attempts := 0
	err = resilience.Do(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return c.attempt(ctx, op, body, out)
	})
	if err == nil {
		return attempts, nil
	}

	var be *Error
	if !errors.As(err, &be) {
		be = &Error{Kind: KindUnreachable, Op: op, Err: err}
	}
	be.Attempts = attempts
	zap.L().Error("board: call failed",
		zap.String("operation", op),
		zap.String("kind", be.Kind.String()),
		zap.Int("attempts", attempts),
		zap.Int("status", be.StatusCode),
		zap.Error(be),
	)
	return attempts, be
}

// attempt performs a single HTTP round trip bounded by attemptTimeout.
func (c *httpClient) attempt(ctx context.Context, op string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Kind: KindUnreachable, Op: op, Err: eris.Wrap(err, "board: rate limit")}
		}
	}

	actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "board: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.token)
	if c.apiVersion != "" {
		req.Header.Set("API-Version", c.apiVersion)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindUnreachable, Op: op, Err: eris.Wrap(err, "board: send request")}
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindUnreachable, Op: op, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "board: read response")}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Kind:       KindRejected,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("board: unexpected status %d: %s", resp.StatusCode, truncate(respBody)),
		}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &Error{Kind: KindRejected, Op: op, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "board: decode response")}
	}
	if msgs := env.failures(); len(msgs) > 0 {
		return &Error{
			Kind:       KindRejected,
			Op:         op,
			StatusCode: resp.StatusCode,
			Messages:   msgs,
			Err:        eris.New("board: graphql errors"),
		}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Kind: KindRejected, Op: op, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "board: decode data")}
		}
	}
	return nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
