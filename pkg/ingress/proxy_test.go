package ingress

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleRequestProxiesToRegisteredBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(backendURL.Port())
	require.NoError(t, err)

	r := NewRouter("embassy")
	require.NoError(t, r.Register("hello-world", "main", net.ParseIP(backendURL.Hostname()), port))

	p := NewProxy(r, "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "hello-world.embassy"
	w := httptest.NewRecorder()

	p.handleRequest(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestHandleRequestUnknownHostReturns404(t *testing.T) {
	p := NewProxy(NewRouter("embassy"), "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "no-such-package.embassy"
	w := httptest.NewRecorder()

	p.handleRequest(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestProxyStopWithoutStartIsNoop(t *testing.T) {
	p := NewProxy(NewRouter("embassy"), "127.0.0.1:0")
	require.NoError(t, p.Stop())
	require.False(t, p.IsRunning())
}

func TestProxyStartTwiceFails(t *testing.T) {
	p := NewProxy(NewRouter("embassy"), "127.0.0.1:18080")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	err := p.Start(ctx)
	require.Error(t, err)
	p.Stop()
}
