package searchindex

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/searchsync/internal/utils"
	"github.com/openmined/searchsync/internal/version"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize   = 5000
	DefaultConcurrency = 4
	DefaultTimeout     = 30 * time.Second
	DefaultRetries     = 2

	headerAppID  = "X-Algolia-Application-Id"
	headerAPIKey = "X-Algolia-API-Key"

	actionUpdate = "updateObject"
	actionDelete = "deleteObject"
)

// Config configures an AlgoliaClient.
type Config struct {
	AppID       string
	APIKey      string
	IndexName   string
	BaseURL     string // defaults to https://<AppID>.algolia.net
	ChunkSize   int
	Concurrency int
	Retries     int
	Timeout     time.Duration
}

func (c *Config) Validate() error {
	if c.AppID == "" {
		return ErrNoAppID
	}
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.IndexName == "" {
		return ErrNoIndexName
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("https://%s.algolia.net", c.AppID)
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("searchindex: invalid base url %q: %w", c.BaseURL, err)
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

type batchOperation struct {
	Action string `json:"action"`
	Body   any    `json:"body"`
}

type batchRequest struct {
	Requests []batchOperation `json:"requests"`
}

type taskResponse struct {
	TaskID    int64    `json:"taskID"`
	ObjectIDs []string `json:"objectIDs,omitempty"`
}

// AlgoliaClient writes to one index through the batch REST API.
type AlgoliaClient struct {
	client *req.Client
	cfg    Config
	path   string
}

var _ Client = (*AlgoliaClient)(nil)

func NewAlgoliaClient(cfg Config) (*AlgoliaClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(headerAppID, cfg.AppID).
		SetCommonHeader(headerAPIKey, cfg.APIKey).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&APIError{}).
		SetCommonRetryCount(cfg.Retries).
		SetCommonRetryBackoffInterval(500*time.Millisecond, 5*time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.GetStatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})

	return &AlgoliaClient{
		client: client,
		cfg:    cfg,
		path:   "/1/indexes/" + url.PathEscape(cfg.IndexName),
	}, nil
}

// Upsert replaces records by objectID, in chunks submitted concurrently.
// Chunks already applied when another chunk fails are not rolled back.
func (a *AlgoliaClient) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	ops := make([]batchOperation, 0, len(records))
	for _, r := range records {
		if r.ObjectID() == "" {
			return fmt.Errorf("upsert: record without %s", ObjectIDKey)
		}
		ops = append(ops, batchOperation{Action: actionUpdate, Body: r})
	}

	if err := a.batch(ctx, "upsert", ops); err != nil {
		return err
	}
	slog.Info("search index upsert", "index", a.cfg.IndexName, "records", len(records))
	return nil
}

// Delete removes records by objectID. Unknown ids are a no-op on the API side.
func (a *AlgoliaClient) Delete(ctx context.Context, objectIDs []string) error {
	if len(objectIDs) == 0 {
		return nil
	}

	ops := make([]batchOperation, 0, len(objectIDs))
	for _, id := range objectIDs {
		ops = append(ops, batchOperation{Action: actionDelete, Body: map[string]string{ObjectIDKey: id}})
	}

	if err := a.batch(ctx, "delete", ops); err != nil {
		return err
	}
	slog.Info("search index delete", "index", a.cfg.IndexName, "records", len(objectIDs))
	return nil
}

// Clear removes every record from the index.
func (a *AlgoliaClient) Clear(ctx context.Context) error {
	var task taskResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&task).
		Post(a.path + "/clear")
	if err := handleAPIError(resp, err, "clear"); err != nil {
		return err
	}
	slog.Info("search index cleared", "index", a.cfg.IndexName, "task", task.TaskID)
	return nil
}

func (a *AlgoliaClient) batch(ctx context.Context, operation string, ops []batchOperation) error {
	chunks := chunk(ops, a.cfg.ChunkSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			var task taskResponse
			resp, err := a.client.R().
				SetContext(gctx).
				SetBody(&batchRequest{Requests: c}).
				SetSuccessResult(&task).
				Post(a.path + "/batch")
			if err := handleAPIError(resp, err, fmt.Sprintf("%s chunk %d/%d", operation, i+1, len(chunks))); err != nil {
				return err
			}
			slog.Debug("search index batch", "op", operation, "chunk", i+1, "of", len(chunks), "size", len(c), "task", task.TaskID)
			return nil
		})
	}
	return g.Wait()
}

func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// String hides the api key when a client is logged.
func (a *AlgoliaClient) String() string {
	return fmt.Sprintf("algolia(%s, index=%s, key=%s)", a.cfg.BaseURL, a.cfg.IndexName, utils.MaskSecret(a.cfg.APIKey))
}
