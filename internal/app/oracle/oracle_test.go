package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPFetcherExtractsPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.URL.Query().Get("symbol"); got != "NEO" {
			t.Errorf("unexpected symbol %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"source":"feed-a","data":{"NEO":{"usd":"12.3456"}}}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "secret", "data.{symbol}.usd", nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	q, err := fetcher.Quote(context.Background(), "neo")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Symbol != "NEO" || q.Price.String() != "12.3456" || q.Source != "feed-a" {
		t.Fatalf("unexpected quote %+v", q)
	}
}

func TestHTTPFetcherErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "DOWN":
			w.WriteHeader(http.StatusBadGateway)
		case "MISSING":
			_, _ = w.Write([]byte(`{"other":1}`))
		default:
			_, _ = w.Write([]byte(`{"price":"not-a-number"}`))
		}
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "", "", nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	for _, symbol := range []string{"DOWN", "MISSING", "BAD", ""} {
		if _, err := fetcher.Quote(context.Background(), symbol); err == nil {
			t.Fatalf("expected error for %q", symbol)
		}
	}
}

func TestHTTPFetcherCaches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"price":1.5}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "", "", nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	fetcher.WithCacheTTL(time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := fetcher.Quote(context.Background(), "gas"); err != nil {
			t.Fatalf("quote: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls.Load())
	}
}

func TestNewHTTPFetcherRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPFetcher(nil, " ", "", "", nil); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
