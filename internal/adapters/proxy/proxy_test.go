package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guilhem-Bonnet/subcapture/internal/interceptor"
)

const sampleVTT = "WEBVTT\n\n00:00:01.000 --> 00:00:02.500\nHello world\n\n"

type proxyFixture struct {
	ic       *interceptor.Interceptor
	upstream *httptest.Server
	client   *http.Client
	headers  chan http.Header
}

func newProxy(t *testing.T) proxyFixture {
	t.Helper()
	headers := make(chan http.Header, 8)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/vtt")
		_, _ = io.WriteString(w, sampleVTT)
	}))
	t.Cleanup(upstream.Close)

	ic := interceptor.New(interceptor.Options{Logger: zerolog.Nop()})
	srv := httptest.NewServer(New(zerolog.Nop(), ic, nil).Handler())
	t.Cleanup(srv.Close)

	proxyURL, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	return proxyFixture{ic: ic, upstream: upstream, client: client, headers: headers}
}

func (f proxyFixture) get(t *testing.T, path string, header http.Header) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.upstream.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestProxy_RelaysBodyAndCapturesWithTabContext(t *testing.T) {
	f := newProxy(t)

	body := f.get(t, "/subs/en.vtt", http.Header{
		TabHeader: {"7"},
		"Referer": {"https://video.example/watch?v=1"},
	})
	assert.Equal(t, sampleVTT, body)

	upstreamHeader := <-f.headers
	assert.Empty(t, upstreamHeader.Get(TabHeader))

	select {
	case note := <-f.ic.Notifier().C():
		assert.Equal(t, 7, note.TabID)
		assert.Equal(t, "https://video.example/watch?v=1", note.PageURL)
		assert.Contains(t, note.CanonicalText, "Hello world")
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a notification")
	}
}

func TestProxy_SkipHeaderBypassesCapture(t *testing.T) {
	f := newProxy(t)

	body := f.get(t, "/subs/en.vtt", http.Header{interceptor.SkipHeader: {"1"}})
	assert.Equal(t, sampleVTT, body)
	assert.Empty(t, (<-f.headers).Get(interceptor.SkipHeader))

	f.ic.Wait()
	select {
	case note := <-f.ic.Notifier().C():
		t.Fatalf("unexpected notification for %s", note.SourceURL)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProxy_RejectsConnectAndRelativeRequests(t *testing.T) {
	p := New(zerolog.Nop(), interceptor.New(interceptor.Options{Logger: zerolog.Nop()}), nil)

	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, httptest.NewRequest(http.MethodConnect, "example.com:443", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	p.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/subs/en.vtt", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProxy_UpstreamFailureIsBadGateway(t *testing.T) {
	p := New(zerolog.Nop(), interceptor.New(interceptor.Options{Logger: zerolog.Nop()}), nil)

	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://127.0.0.1:1/subs/en.vtt", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
