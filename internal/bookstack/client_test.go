package bookstack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/bookstack-sync/internal/bookstacktest"
	apperrors "github.com/alexjbarnes/bookstack-sync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func fakeClient(t *testing.T) (*Client, *bookstacktest.Server) {
	t.Helper()

	srv := bookstacktest.New()
	c, err := NewClient(srv.Start(t), bookstacktest.TokenID, bookstacktest.TokenSecret, nil)
	require.NoError(t, err)

	return c, srv
}

// --- NewClient ---

func TestNewClient_RequiresConfig(t *testing.T) {
	tests := []struct {
		name, url, id, secret string
	}{
		{"no url", "", "id", "secret"},
		{"no id", "http://x", "", "secret"},
		{"no secret", "http://x", "id", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.url, tt.id, tt.secret, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrMissingConfig))
		})
	}
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c, err := NewClient("http://wiki.local/", "a", "b", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://wiki.local", c.baseURL)
}

// --- Authentication ---

func TestClient_SendsTokenHeader(t *testing.T) {
	var got string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[],"total":0}`)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "my-id", "my-secret", nil)
	require.NoError(t, err)

	_, err = c.List(context.Background(), Shelves)
	require.NoError(t, err)
	assert.Equal(t, "Token my-id:my-secret", got)
}

func TestClient_BadCredentials(t *testing.T) {
	srv := bookstacktest.New()
	c, err := NewClient(srv.Start(t), "wrong", "creds", nil)
	require.NoError(t, err)

	_, err = c.List(context.Background(), Books)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAPIResponse))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Message, "permission")
}

// --- List ---

func TestClient_ListEmpty(t *testing.T) {
	c, _ := fakeClient(t)

	items, err := c.List(context.Background(), Shelves)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClient_ListReturnsSummaries(t *testing.T) {
	c, srv := fakeClient(t)
	srv.AddBook("Alpha")
	srv.AddBook("Beta")

	items, err := c.List(context.Background(), Books)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Alpha", gjson.GetBytes(items[0], "name").String())
	assert.Equal(t, "Beta", gjson.GetBytes(items[1], "name").String())
}

func TestClient_ListFollowsPagination(t *testing.T) {
	var offsets []string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)

		assert.Equal(t, "500", r.URL.Query().Get("count"))

		w.Header().Set("Content-Type", "application/json")

		switch offset {
		case "0":
			fmt.Fprint(w, `{"data":[{"id":1},{"id":2}],"total":3}`)
		case "2":
			fmt.Fprint(w, `{"data":[{"id":3}],"total":3}`)
		default:
			fmt.Fprint(w, `{"data":[],"total":3}`)
		}
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "a", "b", nil)
	require.NoError(t, err)

	items, err := c.List(context.Background(), Pages)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(3), gjson.GetBytes(items[2], "id").Int())
	assert.Equal(t, []string{"0", "2"}, offsets)
}

func TestClient_ListRejectsMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `{"total":1}`} {
		t.Run(body, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer ts.Close()

			c, err := NewClient(ts.URL, "a", "b", nil)
			require.NoError(t, err)

			_, err = c.List(context.Background(), Pages)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrAPIResponse))
		})
	}
}

// --- Detail and writes ---

func TestClient_GetBookContents(t *testing.T) {
	c, srv := fakeClient(t)
	book := srv.AddBook("Guide")
	ch := srv.AddChapter(book, "Setup")
	srv.AddPage(book, ch, "Install", "steps")
	srv.AddPage(book, 0, "Intro", "hi")

	doc, err := c.Get(context.Background(), Books, book)
	require.NoError(t, err)

	contents := gjson.GetBytes(doc, "contents").Array()
	require.Len(t, contents, 2)
	assert.Equal(t, "chapter", contents[0].Get("type").String())
	assert.Equal(t, "Install", contents[0].Get("pages.0.name").String())
	assert.Equal(t, "page", contents[1].Get("type").String())
}

func TestClient_GetNotFound(t *testing.T) {
	c, _ := fakeClient(t)

	_, err := c.Get(context.Background(), Pages, 999)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, apperrors.ErrAPIResponse))
}

func TestClient_CreateUpdateDelete(t *testing.T) {
	c, srv := fakeClient(t)
	ctx := context.Background()
	book := srv.AddBook("Guide")

	doc, err := c.Create(ctx, Pages, map[string]any{"book_id": book, "name": "Note", "markdown": "v1"})
	require.NoError(t, err)

	id := gjson.GetBytes(doc, "id").Int()
	require.NotZero(t, id)

	srv.Advance(time.Minute)

	_, err = c.Update(ctx, Pages, id, map[string]any{"markdown": "v2"})
	require.NoError(t, err)

	p, ok := srv.GetPage(id)
	require.True(t, ok)
	assert.Equal(t, "v2", p.Markdown)

	require.NoError(t, c.Delete(ctx, Pages, id))

	_, ok = srv.GetPage(id)
	assert.False(t, ok)
	assert.Equal(t, 1, srv.Count(http.MethodDelete, "/api/pages/"))
}

func TestClient_CreateValidationError(t *testing.T) {
	c, _ := fakeClient(t)

	_, err := c.Create(context.Background(), Chapters, map[string]any{"name": "Orphan"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, http.MethodPost, apiErr.Method)
	assert.Equal(t, "/api/chapters", apiErr.Endpoint)
}

func TestClient_ExportMarkdown(t *testing.T) {
	c, srv := fakeClient(t)
	book := srv.AddBook("Guide")
	page := srv.AddPage(book, 0, "Note", "body text")

	out, err := c.ExportMarkdown(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "# Note\n\nbody text", string(out))
}

func exportServer(t *testing.T, size int) *Client {
	t.Helper()

	body := strings.Repeat("a", size)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)

	c, err := NewClient(ts.URL, "a", "b", nil)
	require.NoError(t, err)

	return c
}

func TestClient_ExportMarkdownAtLimit(t *testing.T) {
	c := exportServer(t, maxResponseBytes)

	out, err := c.ExportMarkdown(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, out, maxResponseBytes)
}

func TestClient_ExportMarkdownOversizedIsError(t *testing.T) {
	c := exportServer(t, maxResponseBytes+1024)

	out, err := c.ExportMarkdown(context.Background(), 1)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, apperrors.ErrAPIResponse))
	assert.Contains(t, err.Error(), "exceeds")
}

// --- Transport ---

func TestClient_TransportErrorWrapsAPIRequest(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := NewClient(url, "a", "b", nil)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), Books, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAPIRequest))
}

func TestClient_ObjectResponseRequired(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[1,2,3]`)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "a", "b", nil)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), Books, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAPIResponse))
}

func TestSameHostRedirectPolicy(t *testing.T) {
	orig, _ := http.NewRequest(http.MethodGet, "http://a.example/x", nil)
	same, _ := http.NewRequest(http.MethodGet, "http://a.example/y", nil)
	other, _ := http.NewRequest(http.MethodGet, "http://b.example/y", nil)

	assert.NoError(t, sameHostRedirectPolicy(same, []*http.Request{orig}))
	assert.Error(t, sameHostRedirectPolicy(other, []*http.Request{orig}))

	via := make([]*http.Request, maxRedirects)
	for i := range via {
		via[i] = orig
	}

	assert.Error(t, sameHostRedirectPolicy(same, via))
}

func TestSanitizeResponseBody(t *testing.T) {
	assert.Equal(t, "ok\tline", sanitizeResponseBody([]byte("ok\tline")))
	assert.Equal(t, "a?b", sanitizeResponseBody([]byte("a\x1bb")))
	assert.Equal(t, "?", sanitizeResponseBody([]byte{0xff}))
	assert.Len(t, sanitizeResponseBody([]byte(strings.Repeat("x", 1000))), 256)
}
