package boatrace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestData represents a test response structure
type TestData struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func setupTestServer(t *testing.T, handler http.HandlerFunc, opts ...Option) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]Option{WithPacing(0)}, opts...)
	client := NewClient(server.URL, opts...)
	return server, client
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// recordingTransport records when each request reaches the transport.
type recordingTransport struct {
	mu    sync.Mutex
	calls []time.Time
	paths []string
	fn    func(*http.Request) (*http.Response, error)
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	rt.calls = append(rt.calls, time.Now())
	rt.paths = append(rt.paths, req.URL.RequestURI())
	rt.mu.Unlock()
	if rt.fn != nil {
		return rt.fn(req)
	}
	return jsonResponse(http.StatusOK, `{"ok":true}`), nil
}

func (rt *recordingTransport) count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.calls)
}

func (rt *recordingTransport) snapshot() ([]time.Time, []string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]time.Time(nil), rt.calls...), append([]string(nil), rt.paths...)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		baseURL     string
		opts        []Option
		wantBaseURL string
		wantPacing  time.Duration
		wantWindow  time.Duration
		wantTimeout time.Duration
		headers     map[string]string
	}{
		{
			name:        "default configuration",
			baseURL:     "https://api.example.com/api",
			wantBaseURL: "https://api.example.com/api",
			wantPacing:  DefaultPacing,
			wantWindow:  DefaultCacheWindow,
			wantTimeout: DefaultRequestTimeout,
		},
		{
			name:        "trailing slash trimmed",
			baseURL:     "https://api.example.com/api/",
			wantBaseURL: "https://api.example.com/api",
			wantPacing:  DefaultPacing,
			wantWindow:  DefaultCacheWindow,
			wantTimeout: DefaultRequestTimeout,
		},
		{
			name:    "custom knobs",
			baseURL: "https://api.test",
			opts: []Option{
				WithPacing(0),
				WithCacheWindow(time.Hour),
				WithTimeout(5 * time.Second),
			},
			wantBaseURL: "https://api.test",
			wantPacing:  0,
			wantWindow:  time.Hour,
			wantTimeout: 5 * time.Second,
		},
		{
			name:        "with custom headers",
			baseURL:     "https://api.test",
			opts:        []Option{WithHeader("User-Agent", "wavepredictor-test")},
			wantBaseURL: "https://api.test",
			wantPacing:  DefaultPacing,
			wantWindow:  DefaultCacheWindow,
			wantTimeout: DefaultRequestTimeout,
			headers:     map[string]string{"User-Agent": "wavepredictor-test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.baseURL, tt.opts...)

			assert.Equal(t, tt.wantBaseURL, client.baseURL)
			assert.Equal(t, tt.wantPacing, client.pacing)
			assert.Equal(t, tt.wantWindow, client.cacheWindow)
			assert.Equal(t, tt.wantTimeout, client.client.Timeout)
			assert.Equal(t, "application/json", client.headers["Content-Type"])
			for k, v := range tt.headers {
				assert.Equal(t, v, client.headers[k])
			}
			assert.True(t, client.Connectivity().Online())
		})
	}
}

func TestClient_Get(t *testing.T) {
	tests := []struct {
		name         string
		handler      func(w http.ResponseWriter, r *http.Request)
		expectedBody *TestData
		wantStatus   int
		wantErr      func(t *testing.T, err error)
	}{
		{
			name: "successful request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				_ = json.NewEncoder(w).Encode(TestData{Message: "success", Status: "ok"})
			},
			expectedBody: &TestData{Message: "success", Status: "ok"},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantErr: func(t *testing.T, err error) {
				var rf *RequestFailedError
				require.ErrorAs(t, err, &rf)
				assert.Equal(t, http.StatusNotFound, rf.StatusCode)
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: func(t *testing.T, err error) {
				var rf *RequestFailedError
				require.ErrorAs(t, err, &rf)
				assert.Equal(t, http.StatusInternalServerError, rf.StatusCode)
				assert.Contains(t, err.Error(), "HTTP 500")
			},
		},
		{
			name: "invalid JSON response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("{invalid json"))
			},
			wantErr: func(t *testing.T, err error) {
				var mr *MalformedResponseError
				require.ErrorAs(t, err, &mr)
			},
		},
		{
			name: "empty response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			wantErr: func(t *testing.T, err error) {
				var mr *MalformedResponseError
				require.ErrorAs(t, err, &mr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := setupTestServer(t, tt.handler)

			body, err := client.Get(context.Background(), "/test")
			if tt.wantErr != nil {
				require.Error(t, err)
				tt.wantErr(t, err)
				assert.Equal(t, 0, client.CacheLen())
				return
			}

			require.NoError(t, err)
			var got TestData
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, *tt.expectedBody, got)
			assert.Equal(t, 1, client.CacheLen())
		})
	}
}

func TestClient_Post(t *testing.T) {
	tests := []struct {
		name        string
		body        any
		handler     func(w http.ResponseWriter, r *http.Request)
		expectError bool
	}{
		{
			name: "successful post",
			body: TestData{Message: "test", Status: "pending"},
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var received TestData
				require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
				assert.Equal(t, "test", received.Message)

				_ = json.NewEncoder(w).Encode(TestData{Message: "success", Status: "ok"})
			},
		},
		{
			name: "invalid request body",
			body: make(chan int), // Cannot be marshaled to JSON
			handler: func(w http.ResponseWriter, r *http.Request) {
				t.Error("Handler should not be called")
			},
			expectError: true,
		},
		{
			name: "server error response",
			body: TestData{Message: "test", Status: "pending"},
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := setupTestServer(t, tt.handler)

			_, err := client.Post(context.Background(), "/test", tt.body)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			// Only GET responses are cached.
			assert.Equal(t, 0, client.CacheLen())
		})
	}
}

func TestClient_RequestHeaderOverride(t *testing.T) {
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Debug"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Request(context.Background(), "/venues", &RequestOptions{
		Header: map[string]string{"X-Debug": "yes"},
	})
	require.NoError(t, err)
}

func TestClient_Pacing(t *testing.T) {
	const pacing = 200 * time.Millisecond
	rt := &recordingTransport{}
	client := NewClient("https://api.test", WithPacing(pacing), WithTransport(rt))

	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), "/venues")
		require.NoError(t, err)
	}

	calls, _ := rt.snapshot()
	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		// Allow for the few microseconds between the pacer releasing the
		// first request and it reaching the transport.
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), pacing-2*time.Millisecond,
			"dispatch %d came too soon after %d", i, i-1)
	}
}

func TestClient_PacingIsGlobalAcrossGoroutines(t *testing.T) {
	const pacing = 100 * time.Millisecond
	rt := &recordingTransport{}
	client := NewClient("https://api.test", WithPacing(pacing), WithTransport(rt))

	var wg sync.WaitGroup
	for _, path := range []string{"/venues", "/races/today", "/system-status", "/venue-status"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := client.Get(context.Background(), p)
			assert.NoError(t, err)
		}(path)
	}
	wg.Wait()

	calls, _ := rt.snapshot()
	require.Len(t, calls, 4)
	first, last := calls[0], calls[0]
	for _, c := range calls {
		if c.Before(first) {
			first = c
		}
		if c.After(last) {
			last = c
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 3*pacing-5*time.Millisecond)
}

func TestClient_PacingRespectsContext(t *testing.T) {
	rt := &recordingTransport{}
	client := NewClient("https://api.test", WithPacing(time.Hour), WithTransport(rt))

	_, err := client.Get(context.Background(), "/venues")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, "/venues")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, rt.count())
}

func TestClient_LastRequestAt(t *testing.T) {
	calls := 0
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls%2 == 0 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	assert.True(t, client.LastRequestAt().IsZero())

	var prev time.Time
	for i := 0; i < 4; i++ {
		_, _ = client.Get(context.Background(), "/system-status")
		at := client.LastRequestAt()
		assert.False(t, at.IsZero())
		assert.False(t, at.Before(prev), "last request time moved backwards")
		prev = at
	}
}

func TestClient_CacheFallback(t *testing.T) {
	const body = `{"predictions":[{"boat_number":1,"predicted_rank":1}]}`
	failing := false
	rt := &recordingTransport{fn: func(r *http.Request) (*http.Response, error) {
		if failing {
			return jsonResponse(http.StatusInternalServerError, `{"error":"boom"}`), nil
		}
		return jsonResponse(http.StatusOK, body), nil
	}}
	clock := newFakeClock()
	client := NewClient("https://api.test",
		WithPacing(time.Second),
		WithCacheWindow(5*time.Minute),
		WithTransport(rt))
	client.now = clock.Now

	first, err := client.Get(context.Background(), "/prediction/R1")
	require.NoError(t, err)
	assert.JSONEq(t, body, string(first))

	failing = true

	t.Run("within window serves cached body", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		got, err := client.Get(context.Background(), "/prediction/R1")
		require.NoError(t, err)
		assert.Equal(t, string(first), string(got))
	})

	t.Run("other URL has no fallback", func(t *testing.T) {
		clock.Advance(time.Second)
		_, err := client.Get(context.Background(), "/prediction/R2")
		var rf *RequestFailedError
		require.ErrorAs(t, err, &rf)
		assert.Equal(t, http.StatusInternalServerError, rf.StatusCode)
	})

	t.Run("past window propagates failure", func(t *testing.T) {
		clock.Advance(4 * time.Minute)
		_, err := client.Get(context.Background(), "/prediction/R1")
		var rf *RequestFailedError
		require.ErrorAs(t, err, &rf)
		assert.Equal(t, http.StatusInternalServerError, rf.StatusCode)
	})

	assert.Equal(t, 4, rt.count())
}

func TestClient_FallbackOnTransportErrorAndMalformedBody(t *testing.T) {
	tests := []struct {
		name string
		fail func(*http.Request) (*http.Response, error)
	}{
		{
			name: "transport error",
			fail: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection reset")
			},
		},
		{
			name: "malformed body",
			fail: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, "<html>maintenance</html>"), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := false
			rt := &recordingTransport{fn: func(r *http.Request) (*http.Response, error) {
				if failing {
					return tt.fail(r)
				}
				return jsonResponse(http.StatusOK, `{"01":{"name":"桐生"}}`), nil
			}}
			client := NewClient("https://api.test", WithPacing(0), WithTransport(rt))

			_, err := client.Get(context.Background(), "/venues")
			require.NoError(t, err)

			failing = true
			got, err := client.Get(context.Background(), "/venues")
			require.NoError(t, err)
			assert.JSONEq(t, `{"01":{"name":"桐生"}}`, string(got))
		})
	}
}

func TestClient_TimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := client.Get(context.Background(), "/system-status")
	var rf *RequestFailedError
	require.ErrorAs(t, err, &rf)
	assert.Zero(t, rf.StatusCode)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_PostFailureUsesCachedGET(t *testing.T) {
	post := false
	rt := &recordingTransport{fn: func(r *http.Request) (*http.Response, error) {
		if post {
			return nil, errors.New("unreachable")
		}
		return jsonResponse(http.StatusOK, `{"predictions":[]}`), nil
	}}
	client := NewClient("https://api.test", WithPacing(0), WithTransport(rt))

	_, err := client.Get(context.Background(), "/ai-prediction-simple")
	require.NoError(t, err)

	post = true
	got, err := client.Post(context.Background(), "/ai-prediction-simple", map[string]any{"racers": []int{1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"predictions":[]}`, string(got))
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	failing := false
	rt := &recordingTransport{fn: func(r *http.Request) (*http.Response, error) {
		if failing {
			return jsonResponse(http.StatusServiceUnavailable, `{}`), nil
		}
		return jsonResponse(http.StatusOK, `{}`), nil
	}}
	conn := NewConnectivity(true)
	client := NewClient("https://api.test", WithPacing(0), WithTransport(rt), WithMetrics(metrics), WithConnectivity(conn))

	_, _ = client.Get(context.Background(), "/venues")
	failing = true
	_, _ = client.Get(context.Background(), "/venues")
	_, _ = client.Get(context.Background(), "/races/today")
	conn.Set(false)
	_, _ = client.Get(context.Background(), "/venues")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("GET", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("GET", outcomeFallback)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("GET", outcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("GET", outcomeOffline)))
}

func TestClient_CallerCancellationSkipsFallback(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func() (context.Context, context.CancelFunc)
		wantErr error
	}{
		{
			name: "cancelled",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return ctx, cancel
			},
			wantErr: context.Canceled,
		},
		{
			name: "deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
			wantErr: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hanging atomic.Bool
			rt := &recordingTransport{fn: func(r *http.Request) (*http.Response, error) {
				if hanging.Load() {
					<-r.Context().Done()
					return nil, r.Context().Err()
				}
				return jsonResponse(http.StatusOK, `{"v":1}`), nil
			}}
			client := NewClient("https://api.test", WithPacing(0), WithTransport(rt))

			_, err := client.Get(context.Background(), "/venues")
			require.NoError(t, err)

			hanging.Store(true)
			ctx, cancel := tt.ctx()
			defer cancel()
			body, err := client.Get(ctx, "/venues")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, body)
			assert.Equal(t, 2, rt.count())
		})
	}
}

func TestClient_EncodeFailureCountsAsIssued(t *testing.T) {
	rt := &recordingTransport{}
	client := NewClient("https://api.test", WithPacing(0), WithTransport(rt))

	_, err := client.Post(context.Background(), "/ai-prediction-simple", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode request body")
	assert.Zero(t, rt.count())
	assert.False(t, client.LastRequestAt().IsZero())
}
