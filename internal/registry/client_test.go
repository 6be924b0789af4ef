package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/lapwatch/internal/config"
	"github.com/yourusername/lapwatch/internal/models"
)

func testConfig(baseURL string) *config.RegistryConfig {
	return &config.RegistryConfig{
		BaseURL:        baseURL,
		SearchPath:     "/api/search",
		ProfilePath:    "/json/mgetresultperson.php",
		APIKey:         "secret",
		TimeoutSeconds: 2,
		MaxRetries:     0,
		RateLimit:      1000,
	}
}

func fastHTTPConfig() HTTPClientConfig {
	cfg := DefaultHTTPClientConfig()
	cfg.Timeout = 2 * time.Second
	cfg.MaxRetries = 0
	cfg.RateLimit = 1000
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = time.Millisecond
	return cfg
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, "Silva", r.URL.Query().Get("lastname"))
		assert.Equal(t, "Ana", r.URL.Query().Get("firstname"))
		assert.Equal(t, "W", r.URL.Query().Get("sex"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalrecords":2,"list":[
			{"PersonID":4411,"Lastname":"Silva","Firstname":"Ana","YOB":1984,"Nation":"POR","Sex":"W","PersonalBest":"231.456 km"},
			{"PersonID":4412,"Lastname":"Silva","Firstname":"Ana Maria","YOB":"0000","Nation":"BRA","Sex":"W","PersonalBest":""}
		]}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil)
	runners, err := client.Search(context.Background(), " Silva ", "Ana", models.GenderFemale)
	require.NoError(t, err)
	require.Len(t, runners, 2)
	assert.Equal(t, int64(4411), runners[0].PersonID)
	assert.Equal(t, 1984, runners[0].YOB.Int())
	assert.Equal(t, 0, runners[1].YOB.Int())
}

func TestSearchEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalrecords":0}`))
	}))
	defer server.Close()

	runners, err := NewClient(testConfig(server.URL), nil).Search(context.Background(), "Nobody", "No", models.GenderMale)
	require.NoError(t, err)
	assert.Empty(t, runners)
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantCause  error
	}{
		{
			name:       "client error",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:      "malformed json",
			handler:   func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"list":`)) },
			wantCause: ErrInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewClient(testConfig(server.URL), nil).Search(context.Background(), "Silva", "Ana", models.GenderFemale)
			require.Error(t, err)

			var regErr *Error
			require.True(t, errors.As(err, &regErr))
			assert.Equal(t, "search", regErr.Endpoint)
			assert.Equal(t, tt.wantStatus, regErr.StatusCode)
			if tt.wantCause != nil {
				assert.ErrorIs(t, err, tt.wantCause)
			}
		})
	}
}

func TestSearchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(testConfig(server.URL), nil).Search(ctx, "Silva", "Ana", models.GenderFemale)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4411", r.URL.Query().Get("runner"))
		assert.Equal(t, "1", r.URL.Query().Get("plain"))

		var body map[string]interface{}
		if r.URL.Query().Get("runner") == "4411" {
			body = map[string]interface{}{
				"PersonHeader": map[string]interface{}{
					"Lastname": "Silva", "Firstname": "Ana", "YOB": "1984", "Nation": "POR", "Sex": "W",
				},
			}
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	profile, err := NewClient(testConfig(server.URL), nil).GetProfile(context.Background(), 4411)
	require.NoError(t, err)
	assert.Equal(t, int64(4411), profile.PersonID)
	assert.Equal(t, 1984, profile.YOB)
	assert.Equal(t, "POR", profile.Nation)
}

func TestGetProfileNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"PersonHeader":{}}`))
	}))
	defer server.Close()

	_, err := NewClient(testConfig(server.URL), nil).GetProfile(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	httpCfg := fastHTTPConfig()
	httpCfg.CircuitBreakerMax = 2
	httpCfg.CircuitCooldown = time.Hour
	httpClient := NewRateLimitedHTTPClient(httpCfg, nil)
	client := NewClientWithHTTP(testConfig(server.URL), httpClient, nil)

	for i := 0; i < 2; i++ {
		_, err := client.Search(context.Background(), "Silva", "Ana", models.GenderFemale)
		require.Error(t, err)
	}
	assert.True(t, httpClient.IsOpen())
	assert.ErrorIs(t, client.Check(context.Background()), ErrCircuitOpen)

	_, err := client.Search(context.Background(), "Silva", "Ana", models.GenderFemale)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"list":[]}`))
	}))
	defer server.Close()

	httpCfg := fastHTTPConfig()
	httpCfg.CircuitBreakerMax = 1
	httpCfg.CircuitCooldown = time.Minute
	httpClient := NewRateLimitedHTTPClient(httpCfg, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	httpClient.now = func() time.Time { return now }
	client := NewClientWithHTTP(testConfig(server.URL), httpClient, nil)

	_, err := client.Search(context.Background(), "A", "B", models.GenderMale)
	require.Error(t, err)
	require.True(t, httpClient.IsOpen())

	fail.Store(false)
	now = now.Add(time.Minute)

	_, err = client.Search(context.Background(), "A", "B", models.GenderMale)
	require.NoError(t, err)
	assert.False(t, httpClient.IsOpen())
}

func TestRetryOnServerError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"list":[{"PersonID":1,"Lastname":"A","Firstname":"B","YOB":1990,"Nation":"GBR","Sex":"M"}]}`))
	}))
	defer server.Close()

	httpCfg := fastHTTPConfig()
	httpCfg.MaxRetries = 2
	client := NewClientWithHTTP(testConfig(server.URL), NewRateLimitedHTTPClient(httpCfg, nil), nil)

	runners, err := client.Search(context.Background(), "A", "B", models.GenderMale)
	require.NoError(t, err)
	assert.Len(t, runners, 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestParsePersonalBestKm(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{in: "245.123 km", want: ptr(245.123)},
		{in: "201,5 km", want: ptr(201.5)},
		{in: "188.0", want: ptr(188.0)},
		{in: "7:45:12 h", want: nil},
		{in: "", want: nil},
		{in: "n/a", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParsePersonalBestKm(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func ptr(f float64) *float64 {
	return &f
}
