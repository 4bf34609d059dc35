package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com", "test-key")

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.apiKey != "test-key" {
			t.Errorf("apiKey = %q, want %q", c.apiKey, "test-key")
		}
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 5*time.Second)
		}
		if c.maxRetries != 1 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 1)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
		if !c.HasAPIKey() {
			t.Error("HasAPIKey() = false, want true")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		hc := &http.Client{}
		c := NewClient("https://api.example.com", "",
			WithTimeout(2*time.Second),
			WithRetries(5, 2*time.Second),
			WithLogger(logger),
		)
		if c.httpClient.Timeout != 2*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 2*time.Second)
		}
		if c.maxRetries != 5 || c.retryBackoff != 2*time.Second {
			t.Errorf("retries = %d/%v, want 5/2s", c.maxRetries, c.retryBackoff)
		}
		if c.logger != logger {
			t.Error("logger not set")
		}
		if c.HasAPIKey() {
			t.Error("HasAPIKey() = true, want false")
		}

		c = NewClient("https://api.example.com", "", WithHTTPClient(hc))
		if c.httpClient != hc {
			t.Error("httpClient not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "symbol not found"}
		expected := "upstream api error 404: symbol not found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{429, true},
			{400, false},
			{401, false},
			{404, false},
			{499, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("api key and query parameters", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if got := r.URL.Query().Get("apikey"); got != "test-key" {
				t.Errorf("apikey = %q, want %q", got, "test-key")
			}
			if got := r.URL.Query().Get("symbol"); got != "AAPL" {
				t.Errorf("symbol = %q, want %q", got, "AAPL")
			}
			w.Write([]byte(`{"price":"1"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "test-key")
		body, err := c.doRequest(context.Background(), http.MethodGet, "/price", map[string][]string{"symbol": {"AAPL"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"price":"1"}` {
			t.Errorf("body = %q", string(body))
		}
	})

	t.Run("request without API key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Has("apikey") {
				t.Error("apikey should be absent")
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":401,"message":"invalid api key","status":"error"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 401 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 401)
		}
		if apiErr.Message != "invalid api key" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "invalid api key")
		}
	})

	t.Run("error object in 200 body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":429,"message":"run out of API credits","status":"error"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/quote", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if apiErr.StatusCode != 429 || !apiErr.IsRetryable() {
			t.Errorf("APIError = %+v, want retryable 429", apiErr)
		}
	})

	t.Run("transport error hides api key", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", "super-secret")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/quote", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if strings.Contains(err.Error(), "super-secret") {
			t.Errorf("error leaks api key: %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error should wrap context.Canceled, got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx then succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q", string(body))
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("no retry on 4xx", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("error = %v, want max retries exceeded", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})
}

const quoteAAPL = `{"symbol":"AAPL","name":"Apple Inc","exchange":"NASDAQ","currency":"USD",
"datetime":"2024-01-02","timestamp":1704229200,"close":"190.12","volume":"52164500",
"change":"1.5","percent_change":"0.79","is_market_open":false}`

func TestGetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("path = %q, want /quote", r.URL.Path)
		}
		w.Write([]byte(quoteAAPL))
	}))
	defer server.Close()

	c := NewClient(server.URL, "key")
	q, err := c.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.Symbol != "AAPL" || q.Close != "190.12" || q.Timestamp != "1704229200" {
		t.Errorf("quote = %+v", q)
	}
}

func TestGetQuotes(t *testing.T) {
	t.Run("batch with per-symbol error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("symbol"); got != "AAPL,NOPE" {
				t.Errorf("symbol = %q, want AAPL,NOPE", got)
			}
			w.Write([]byte(`{"AAPL":` + quoteAAPL + `,
				"NOPE":{"code":404,"message":"symbol not found","status":"error"}}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		quotes, err := c.GetQuotes(context.Background(), []string{"AAPL", "NOPE"})
		if err != nil {
			t.Fatalf("GetQuotes: %v", err)
		}
		if len(quotes) != 1 {
			t.Fatalf("len(quotes) = %d, want 1", len(quotes))
		}
		if quotes["AAPL"].Close != "190.12" {
			t.Errorf("AAPL close = %q", quotes["AAPL"].Close)
		}
	})

	t.Run("single symbol is a bare object", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(quoteAAPL))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		quotes, err := c.GetQuotes(context.Background(), []string{"AAPL"})
		if err != nil {
			t.Fatalf("GetQuotes: %v", err)
		}
		if _, ok := quotes["AAPL"]; !ok {
			t.Errorf("quotes = %v, want AAPL", quotes)
		}
	})

	t.Run("empty input makes no call", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", "key")
		quotes, err := c.GetQuotes(context.Background(), nil)
		if err != nil || len(quotes) != 0 {
			t.Errorf("GetQuotes(nil) = %v, %v", quotes, err)
		}
	})
}

func TestGetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"370.60"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "key")
	p, err := c.GetPrice(context.Background(), "MSFT")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	snap, err := p.ToSnapshot("msft", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Symbol != "MSFT" || snap.Price != 370.6 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestGetTimeSeries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("interval") != "1day" || q.Get("outputsize") != "2" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"meta":{"symbol":"AAPL","interval":"1day"},"values":[
			{"datetime":"2024-01-03","open":"1","high":"2","low":"0.5","close":"1.5","volume":"10"},
			{"datetime":"2024-01-02","open":"1","high":"2","low":"0.5","close":"1.2","volume":"20"}
		],"status":"ok"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "key")
	resp, err := c.GetTimeSeries(context.Background(), "AAPL", TimeSeriesOptions{OutputSize: 2})
	if err != nil {
		t.Fatalf("GetTimeSeries: %v", err)
	}
	if resp.Meta.Symbol != "AAPL" || len(resp.Values) != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSymbolSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/symbol_search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"data":[
			{"symbol":"AAPL","instrument_name":"Apple Inc","exchange":"NASDAQ","instrument_type":"Common Stock"},
			{"symbol":"AAPL","instrument_name":"Apple Inc","exchange":"BMV","instrument_type":"Common Stock"},
			{"symbol":"APLE","instrument_name":"Apple Hospitality","exchange":"NYSE","instrument_type":"REIT"}
		],"status":"ok"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "key")
	matches, err := c.SymbolSearch(context.Background(), "apple", 2)
	if err != nil {
		t.Fatalf("SymbolSearch: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("len(matches) = %d, want 2", len(matches))
	}
}

func TestJSONUnmarshalErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "key")
	if _, err := c.GetQuote(context.Background(), "AAPL"); err == nil {
		t.Error("expected unmarshal error")
	}
}
