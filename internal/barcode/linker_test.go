package barcode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linkService(t *testing.T, respond func(raw string) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		status, resp := respond(string(body))
		w.WriteHeader(status)
		io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLinkStripsOuterQuotes(t *testing.T) {
	srv := linkService(t, func(raw string) (int, string) {
		assert.Equal(t, "RAW-123", raw)
		return 200, `"CANON-999"`
	})
	linker := NewLinker(srv.URL, true, time.Second, nil)

	canonical, ok := linker.Link(context.Background(), "RAW-123")
	assert.True(t, ok)
	assert.Equal(t, "CANON-999", canonical)
}

func TestLinkPlainBodyUsedVerbatim(t *testing.T) {
	srv := linkService(t, func(string) (int, string) { return 200, "CANON-1\n" })
	linker := NewLinker(srv.URL, true, time.Second, nil)

	canonical, ok := linker.Link(context.Background(), "RAW")
	assert.True(t, ok)
	assert.Equal(t, "CANON-1", canonical)
}

func TestLinkFallbackCases(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
	}{
		{"empty body", 200, ""},
		{"literal null", 200, "null"},
		{"quoted null", 200, `"null"`},
		{"server error", 500, "boom"},
		{"not found", 404, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := linkService(t, func(string) (int, string) { return tc.status, tc.body })
			linker := NewLinker(srv.URL, true, time.Second, nil)

			_, ok := linker.Link(context.Background(), "RAW")
			assert.False(t, ok, "linking must not be applied")
		})
	}
}

func TestLinkTimeoutFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		io.WriteString(w, "CANON")
	}))
	t.Cleanup(srv.Close)
	linker := NewLinker(srv.URL, true, 50*time.Millisecond, nil)

	start := time.Now()
	_, ok := linker.Link(context.Background(), "RAW")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "bounded by the linker timeout")
}

func TestLinkDisabledOrEmpty(t *testing.T) {
	linker := NewLinker("", true, time.Second, nil)
	_, ok := linker.Link(context.Background(), "RAW")
	assert.False(t, ok)
	assert.False(t, linker.Enabled())

	srv := linkService(t, func(string) (int, string) { return 200, "CANON" })
	disabled := NewLinker(srv.URL, false, time.Second, nil)
	_, ok = disabled.Link(context.Background(), "RAW")
	assert.False(t, ok)

	enabled := NewLinker(srv.URL, true, time.Second, nil)
	_, ok = enabled.Link(context.Background(), "")
	assert.False(t, ok, "empty raw values are never posted")
}

func TestLinkMemoryCacheSkipsRepeatRPC(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		io.WriteString(w, `"CANON"`)
	}))
	t.Cleanup(srv.Close)

	linker := NewLinker(srv.URL, true, time.Second, NewMemoryCache(time.Minute))

	for i := 0; i < 3; i++ {
		canonical, ok := linker.Link(context.Background(), "RAW")
		require.True(t, ok)
		assert.Equal(t, "CANON", canonical)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache(30 * time.Millisecond)
	cache.Set(context.Background(), "a", "b")

	v, ok := cache.Get(context.Background(), "a")
	require.True(t, ok)
	assert.Equal(t, "b", v)

	time.Sleep(50 * time.Millisecond)
	_, ok = cache.Get(context.Background(), "a")
	assert.False(t, ok)
}
