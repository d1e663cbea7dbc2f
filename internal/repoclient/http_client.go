package repoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/passrepo/depositorch/internal/model"
)

// HTTPClient implements Client against a REST backend that exposes entities
// at <baseURL>/<entityType>/<id> and honors ETag/If-Match headers: a single
// *http.Client member, context-scoped per-call timeouts, and no framework
// in between.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	// Timeout bounds every call; spec.md §5 requires every network call to
	// carry a finite timeout.
	Timeout time.Duration
}

// NewHTTPClient builds an HTTPClient with sane defaults.
func NewHTTPClient(baseURL, userAgent string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		UserAgent:  userAgent,
		Timeout:    30 * time.Second,
	}
}

func (c *HTTPClient) entityURL(entityType model.EntityType, id string) string {
	return fmt.Sprintf("%s/%s/%s", c.BaseURL, entityType, url.PathEscape(id))
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body []byte, headers map[string]string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("repoclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// The timeout context also governs reading the body, so it is released
	// when the caller closes the body rather than when do returns.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Read implements Client.
func (c *HTTPClient) Read(ctx context.Context, id string, entityType model.EntityType, out any) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.entityURL(entityType, id), nil, nil)
	if err != nil {
		return "", fmt.Errorf("repoclient: read %s %s: %w", entityType, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("repoclient: read %s %s: unexpected status %d", entityType, id, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("repoclient: read body %s %s: %w", entityType, id, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return "", fmt.Errorf("repoclient: decode %s %s: %w", entityType, id, err)
	}
	return resp.Header.Get("ETag"), nil
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, entityType model.EntityType, in any, out any) (string, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("repoclient: encode %s: %w", entityType, err)
	}

	target := fmt.Sprintf("%s/%s", c.BaseURL, entityType)
	resp, err := c.do(ctx, http.MethodPost, target, body, nil)
	if err != nil {
		return "", fmt.Errorf("repoclient: create %s: %w", entityType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("repoclient: create %s: unexpected status %d", entityType, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("repoclient: read create body %s: %w", entityType, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return "", fmt.Errorf("repoclient: decode create %s: %w", entityType, err)
	}
	return resp.Header.Get("ETag"), nil
}

// UpdateAndRead implements Client.
func (c *HTTPClient) UpdateAndRead(ctx context.Context, id string, entityType model.EntityType, etag string, in any, out any) (string, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("repoclient: encode %s %s: %w", entityType, id, err)
	}

	headers := map[string]string{"If-Match": etag}
	resp, err := c.do(ctx, http.MethodPut, c.entityURL(entityType, id), body, headers)
	if err != nil {
		return "", fmt.Errorf("repoclient: update %s %s: %w", entityType, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed || resp.StatusCode == http.StatusConflict {
		return "", ErrConflict
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("repoclient: update %s %s: unexpected status %d", entityType, id, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("repoclient: read update body %s %s: %w", entityType, id, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return "", fmt.Errorf("repoclient: decode update %s %s: %w", entityType, id, err)
	}
	return resp.Header.Get("ETag"), nil
}

// Incoming implements Client.
func (c *HTTPClient) Incoming(ctx context.Context, id string) (map[string][]string, error) {
	target := fmt.Sprintf("%s/incoming/%s", c.BaseURL, url.PathEscape(id))
	resp, err := c.do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("repoclient: incoming %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("repoclient: incoming %s: unexpected status %d", id, resp.StatusCode)
	}

	var out map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("repoclient: decode incoming %s: %w", id, err)
	}
	return out, nil
}

// FindByAttribute implements Client.
func (c *HTTPClient) FindByAttribute(ctx context.Context, entityType model.EntityType, attr, value string) ([]string, error) {
	q := url.Values{"attr": {attr}, "value": {value}}
	target := fmt.Sprintf("%s/%s?%s", c.BaseURL, entityType, q.Encode())
	resp, err := c.do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("repoclient: find %s by %s: %w", entityType, attr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("repoclient: find %s by %s: unexpected status %d", entityType, attr, resp.StatusCode)
	}

	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("repoclient: decode find %s by %s: %w", entityType, attr, err)
	}
	return ids, nil
}

var _ Client = (*HTTPClient)(nil)
