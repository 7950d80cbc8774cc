package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchCachesResponse(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	cfg := DefaultConfig(t.TempDir())
	f := New(cfg)

	res1 := f.Fetch(context.Background(), srv.URL, PurposeMedia)
	require.Equal(t, StatusReady, res1.Status)
	require.Equal(t, "payload", string(res1.Bytes))

	res2 := f.Fetch(context.Background(), srv.URL, PurposeMedia)
	require.Equal(t, StatusReady, res2.Status)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits), "second fetch must be served from cache")
}

func TestFetchExcludesHostAfterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig("")
	cfg.ExclusionMedSecs = 60
	f := New(cfg)

	res := f.Fetch(context.Background(), srv.URL, PurposeMedia)
	require.Equal(t, StatusFailed, res.Status)

	res2 := f.Fetch(context.Background(), srv.URL, PurposeMedia)
	require.Equal(t, StatusFailed, res2.Status)
	require.Contains(t, res2.Err.Error(), "excluded")
}

func TestFetchCoalescesConcurrentRequestsForSameUrl(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := DefaultConfig("")
	f := New(cfg)

	done := make(chan Result, 2)
	go func() { done <- f.Fetch(context.Background(), srv.URL, PurposeMedia) }()
	go func() { done <- f.Fetch(context.Background(), srv.URL, PurposeMedia) }()

	time.Sleep(50 * time.Millisecond)
	close(release)

	r1 := <-done
	r2 := <-done
	require.Equal(t, StatusReady, r1.Status)
	require.Equal(t, StatusReady, r2.Status)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits), "concurrent fetches of the same url must coalesce")
}
