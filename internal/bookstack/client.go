// Package bookstack is a small client for the Bookstack REST API. It
// deals in raw JSON documents; interpreting them is left to callers.
package bookstack

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
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/bookstack-sync/internal/errors"
	"github.com/tidwall/gjson"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// DefaultTimeout is the timeout for the HTTP client used when no
	// custom client is provided.
	DefaultTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads. Markdown exports of
	// large pages are the biggest payloads the API returns.
	maxResponseBytes = 32 * 1024 * 1024

	// listPageSize is the count requested per listing page. 500 is the
	// server-side maximum.
	listPageSize = 500
)

// Resource names one of the four content collections.
type Resource string

const (
	Shelves  Resource = "shelves"
	Books    Resource = "books"
	Chapters Resource = "chapters"
	Pages    Resource = "pages"
)

func (r Resource) collection() string {
	return "/api/" + string(r)
}

func (r Resource) item(id int64) string {
	return "/api/" + string(r) + "/" + strconv.FormatInt(id, 10)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Method   string
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %s %s returned status %d: %s", e.Method, e.Endpoint, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return apperrors.ErrAPIResponse }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the Bookstack REST API using token authentication.
type Client struct {
	httpClient *http.Client
	baseURL    string
	auth       string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the token header
// from leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns an http.Client with the given timeout that only
// follows same-host redirects.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// NewClient creates an API client for the server at baseURL. If
// httpClient is nil, a client with DefaultTimeout and a same-host
// redirect policy is created.
func NewClient(baseURL, tokenID, tokenSecret string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is empty", apperrors.ErrMissingConfig)
	}

	if tokenID == "" || tokenSecret == "" {
		return nil, fmt.Errorf("%w: token id and secret are required", apperrors.ErrMissingConfig)
	}

	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		auth:       "Token " + tokenID + ":" + tokenSecret,
	}, nil
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// errorMessage extracts the server's error message, falling back to the
// sanitized body. Bookstack reports errors as {"error":{"message":..}}.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return sanitizeResponseBody([]byte(msg.String()))
		}
	}

	return sanitizeResponseBody(body)
}

// do sends a request and returns the response body. A non-nil body is
// sent as JSON.
func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", apperrors.ErrAPIRequest, method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response from %s: %w", apperrors.ErrAPIRequest, endpoint, err)
	}

	// Oversized bodies are an error, never a short read.
	if len(respBody) > maxResponseBytes {
		return nil, fmt.Errorf("%w: %s %s: response exceeds %d bytes",
			apperrors.ErrAPIResponse, method, endpoint, maxResponseBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Method:   method,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  errorMessage(respBody),
		}
	}

	return respBody, nil
}

// object sends a request whose response must be a JSON object.
func (c *Client) object(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	respBody, err := c.do(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(respBody) || !gjson.ParseBytes(respBody).IsObject() {
		return nil, fmt.Errorf("%w: %s %s: response is not a JSON object", apperrors.ErrAPIResponse, method, endpoint)
	}

	return json.RawMessage(respBody), nil
}

// List returns the summary record of every entity in a collection,
// following pagination until the reported total is reached.
func (c *Client) List(ctx context.Context, res Resource) ([]json.RawMessage, error) {
	var out []json.RawMessage

	for offset := 0; ; {
		endpoint := fmt.Sprintf("%s?count=%d&offset=%d", res.collection(), listPageSize, offset)

		body, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", res, err)
		}

		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: listing %s: invalid JSON", apperrors.ErrAPIResponse, res)
		}

		data := gjson.GetBytes(body, "data")
		if !data.IsArray() {
			return nil, fmt.Errorf("%w: listing %s: missing data array", apperrors.ErrAPIResponse, res)
		}

		items := data.Array()
		for _, item := range items {
			out = append(out, json.RawMessage(item.Raw))
		}

		offset += len(items)

		total := gjson.GetBytes(body, "total")
		if len(items) == 0 || !total.Exists() || int64(offset) >= total.Int() {
			return out, nil
		}
	}
}

// Get returns the full detail record of one entity.
func (c *Client) Get(ctx context.Context, res Resource, id int64) (json.RawMessage, error) {
	doc, err := c.object(ctx, http.MethodGet, res.item(id), nil)
	if err != nil {
		return nil, fmt.Errorf("reading %s %d: %w", res, id, err)
	}

	return doc, nil
}

// Create posts a new entity and returns the server's record of it.
func (c *Client) Create(ctx context.Context, res Resource, body any) (json.RawMessage, error) {
	doc, err := c.object(ctx, http.MethodPost, res.collection(), body)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", res, err)
	}

	return doc, nil
}

// Update replaces fields of an existing entity and returns the server's
// record of it.
func (c *Client) Update(ctx context.Context, res Resource, id int64, body any) (json.RawMessage, error) {
	doc, err := c.object(ctx, http.MethodPut, res.item(id), body)
	if err != nil {
		return nil, fmt.Errorf("updating %s %d: %w", res, id, err)
	}

	return doc, nil
}

// Delete removes an entity. The server moves it to its recycle bin.
func (c *Client) Delete(ctx context.Context, res Resource, id int64) error {
	if _, err := c.do(ctx, http.MethodDelete, res.item(id), nil); err != nil {
		return fmt.Errorf("deleting %s %d: %w", res, id, err)
	}

	return nil
}

// ExportMarkdown returns the markdown export of a page. The export
// starts with a generated "# <name>" heading.
func (c *Client) ExportMarkdown(ctx context.Context, pageID int64) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet, Pages.item(pageID)+"/export/markdown", nil)
	if err != nil {
		return nil, fmt.Errorf("exporting page %d: %w", pageID, err)
	}

	return body, nil
}
