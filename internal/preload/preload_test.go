package preload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinereel/internal/metrics"
)

func TestPreloadFetchesOnceWhileWarm(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	p := New(srv.Client(), time.Hour, zerolog.Nop(), nil)
	url := srv.URL + "/t/p/w1280/backdrop.jpg"

	p.Preload(context.Background(), url)
	require.Eventually(t, func() bool { return p.recentlyWarmed(url) }, 2*time.Second, 10*time.Millisecond)

	p.Preload(context.Background(), url)
	p.Preload(context.Background(), url)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestPreloadFailureIsNotRemembered(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(srv.Client(), time.Hour, zerolog.Nop(), nil)
	url := srv.URL + "/missing.jpg"

	p.Preload(context.Background(), url)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, p.recentlyWarmed(url))
}

func TestPreloadIgnoresBlank(t *testing.T) {
	p := New(nil, 0, zerolog.Nop(), nil)
	assert.NotPanics(t, func() { p.Preload(context.Background(), "   ") })
}

func TestPreloadAbandonedWhenContextEnds(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	m := metrics.New(prometheus.NewRegistry())
	p := New(srv.Client(), time.Hour, zerolog.Nop(), m)
	url := srv.URL + "/slow.jpg"

	ctx, cancel := context.WithCancel(context.Background())
	p.Preload(ctx, url)
	<-started
	cancel()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Preloads.WithLabelValues("cancelled")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, p.recentlyWarmed(url))
}

func TestPreloadSkipsEndedContext(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	p := New(srv.Client(), time.Hour, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Preload(ctx, srv.URL+"/x.jpg")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}
