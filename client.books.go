package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	RequestIDPrefix = "r"
	HeaderRequestID = "X-Request-ID"
	contentTypeJSON = "application/json"
)

var _ BooksAPI = (*BooksClient)(nil) // ensure BooksClient implements BooksAPI.

// BooksAPI defines the operations offered by the remote books api.
type BooksAPI interface {
	ListPage(ctx context.Context, req PageRequest) ([]Book, error)
	ListAll(ctx context.Context) ([]Book, error)
	Count(ctx context.Context) (int, error)
	CountBySearch(ctx context.Context, query string) (int, error)
	Create(ctx context.Context, book Book) (Book, error)
	Update(ctx context.Context, book Book) (Book, error)
	Delete(ctx context.Context, id int64) error
}

// BooksClient talks to the remote books api over http. It never caches anything.
type BooksClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	ids        UIDHandler
	metrics    *ClientMetrics
}

// NewBooksClient provides a ready to use client. A zero rate limit disables throttling.
func NewBooksClient(logger *zap.Logger, config *RemoteConfig, httpClient *http.Client, ids UIDHandler, metrics *ClientMetrics) *BooksClient {
	c := &BooksClient{
		logger:     logger,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		userAgent:  config.UserAgent,
		ids:        ids,
		metrics:    metrics,
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return c
}

// ListPage fetches one page of books, optionally filtered by a search term.
func (c *BooksClient) ListPage(ctx context.Context, req PageRequest) ([]Book, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("size", strconv.Itoa(req.Size))
	if strings.TrimSpace(req.Search) != "" {
		q.Set("search", req.Search)
	}

	status, body, err := c.do(ctx, OpList, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &RemoteError{StatusCode: status, Operation: OpList}
	}

	var page listPageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &DecodeError{Operation: OpList, Err: err}
	}
	if page.Content == nil {
		return nil, &DecodeError{Operation: OpList, Err: errors.New("missing content field")}
	}
	return *page.Content, nil
}

// ListAll fetches every book without pagination.
func (c *BooksClient) ListAll(ctx context.Context) ([]Book, error) {
	status, body, err := c.do(ctx, OpListAll, http.MethodGet, c.baseURL+"/all", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &RemoteError{StatusCode: status, Operation: OpListAll}
	}

	books := []Book{}
	if err := json.Unmarshal(body, &books); err != nil {
		return nil, &DecodeError{Operation: OpListAll, Err: err}
	}
	return books, nil
}

// Count returns the total number of books.
func (c *BooksClient) Count(ctx context.Context) (int, error) {
	return c.count(ctx, OpCount, c.baseURL+"/count")
}

// CountBySearch returns the number of books matching the search query.
func (c *BooksClient) CountBySearch(ctx context.Context, query string) (int, error) {
	q := url.Values{}
	q.Set("query", query)
	return c.count(ctx, OpSearchCount, c.baseURL+"/search/count?"+q.Encode())
}

func (c *BooksClient) count(ctx context.Context, op, target string) (int, error) {
	status, body, err := c.do(ctx, op, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, &RemoteError{StatusCode: status, Operation: op}
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		return 0, &DecodeError{Operation: op, Err: err}
	}
	if n < 0 {
		return 0, &DecodeError{Operation: op, Err: fmt.Errorf("negative count %d", n)}
	}
	return n, nil
}

// Create submits a new book. A 400 answer gives a *RejectionError holding the raw body.
func (c *BooksClient) Create(ctx context.Context, book Book) (Book, error) {
	book.ID = nil
	status, body, err := c.do(ctx, OpCreate, http.MethodPost, c.baseURL, book)
	if err != nil {
		return Book{}, err
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		return decodeBook(OpCreate, body)
	case http.StatusBadRequest:
		return Book{}, &RejectionError{Operation: OpCreate, Payload: body}
	default:
		return Book{}, &RemoteError{StatusCode: status, Operation: OpCreate}
	}
}

// Update replaces the stored book with the given one. The book must carry its id.
func (c *BooksClient) Update(ctx context.Context, book Book) (Book, error) {
	if !book.HasID() {
		return Book{}, &PreconditionError{Operation: OpUpdate, Err: ErrMissingBookID}
	}

	target := c.baseURL + "/" + strconv.FormatInt(book.BookID(), 10)
	status, body, err := c.do(ctx, OpUpdate, http.MethodPut, target, book)
	if err != nil {
		return Book{}, err
	}

	switch status {
	case http.StatusOK:
		return decodeBook(OpUpdate, body)
	case http.StatusBadRequest:
		return Book{}, &RejectionError{Operation: OpUpdate, Payload: body}
	default:
		return Book{}, &RemoteError{StatusCode: status, Operation: OpUpdate}
	}
}

// Delete removes a book. Only a 200 answer is a success.
func (c *BooksClient) Delete(ctx context.Context, id int64) error {
	target := c.baseURL + "/" + strconv.FormatInt(id, 10)
	status, _, err := c.do(ctx, OpDelete, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &RemoteError{StatusCode: status, Operation: OpDelete}
	}
	return nil
}

func decodeBook(op string, body []byte) (Book, error) {
	var book Book
	if err := json.Unmarshal(body, &book); err != nil {
		return Book{}, &DecodeError{Operation: op, Err: err}
	}
	return book, nil
}

// do sends one request and returns the status code with the full response body.
// Only transport level failures are returned as error, the status is left to the caller.
func (c *BooksClient) do(ctx context.Context, op, method, target string, payload interface{}) (int, []byte, error) {
	requestID := c.ids.Generate(RequestIDPrefix)
	logger := c.logger.With(
		zap.String("request.id", requestID),
		zap.String("request.op", op),
		zap.String("request.method", method),
		zap.String("request.url", target),
	)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("%s: rate limiter: %w", op, err)
		}
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: failed to encode request body: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set(HeaderRequestID, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observe(op, 0, time.Since(start))
		logger.Error("remote call failed", zap.Error(err))
		return 0, nil, fmt.Errorf("%s: network error: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	c.metrics.observe(op, resp.StatusCode, elapsed)
	if err != nil {
		logger.Error("failed to read response body", zap.Int("response.status", resp.StatusCode), zap.Error(err))
		return 0, nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	logger.Info("remote call",
		zap.Int("response.status", resp.StatusCode),
		zap.Int("response.bytes", len(body)),
		zap.Duration("request.duration", elapsed),
	)
	return resp.StatusCode, body, nil
}
