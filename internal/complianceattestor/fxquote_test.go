package complianceattestor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchFXQuote_ParsesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("base") != "USD" || r.URL.Query().Get("symbols") != "EUR" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"date":"2026-07-30","rates":{"EUR":0.92}}`))
	}))
	defer srv.Close()

	quote, err := fetchFXQuote(context.Background(), srv.URL, "usd", "eur")
	if err != nil {
		t.Fatalf("fetchFXQuote: %v", err)
	}
	if quote.Provider != "frankfurter" || quote.Base != "USD" || quote.Quote != "EUR" || quote.Rate != 0.92 || quote.AsOfDate != "2026-07-30" {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestFetchFXQuote_ReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := fetchFXQuote(context.Background(), srv.URL, "usd", "eur"); err == nil {
		t.Fatal("expected a non-success status to produce an error")
	}
}

func TestFetchFXQuote_ReturnsErrorWhenRateMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"date":"2026-07-30","rates":{"GBP":0.8}}`))
	}))
	defer srv.Close()

	if _, err := fetchFXQuote(context.Background(), srv.URL, "usd", "eur"); err == nil {
		t.Fatal("expected a missing rate to produce an error")
	}
}
