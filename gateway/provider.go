package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"skyfare/models"
	"skyfare/storage"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Provider queries one external fare source. Implementations parse
// the provider's own response shape into Offers; they may fail, the
// gateway normalizes failure to an empty result.
type Provider interface {
	Name() string
	Search(ctx context.Context, q models.SearchQuery) ([]models.Offer, error)
}

// Client is the shared HTTP plumbing for provider implementations:
// one retried http.Client plus best-effort raw-payload archiving.
type Client struct {
	http     *http.Client
	uploader storage.Uploader
	log      *zap.SugaredLogger
}

func NewClient(httpClient *http.Client, uploader storage.Uploader, log *zap.SugaredLogger) *Client {
	if uploader == nil {
		uploader = storage.NoOpUploader{}
	}
	return &Client{http: httpClient, uploader: uploader, log: log}
}

func (c *Client) get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, headers)
}

func (c *Client) postJSON(ctx context.Context, url string, body any, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, headers)
}

func (c *Client) do(req *http.Request, headers map[string]string) ([]byte, error) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %.200s", resp.StatusCode, string(data))
	}
	return data, nil
}

// archive ships the raw payload off-process without blocking the
// search path. Errors are logged only.
func (c *Client) archive(provider string, q models.SearchQuery, payload []byte) {
	if _, ok := c.uploader.(storage.NoOpUploader); ok {
		return
	}

	key := storage.ArchiveKey(provider, q.Origin, q.Destination, q.DepartureDate, time.Now())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.uploader.Upload(ctx, key, bytes.NewReader(payload), "application/json"); err != nil {
			c.log.Warnw("archive upload failed", "provider", provider, "key", key, "error", err)
		}
	}()
}

func parseTime(value string) time.Time {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
