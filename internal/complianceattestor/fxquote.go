package complianceattestor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// FxQuote is the optional best-effort enrichment described in SPEC_FULL.md
// §4.3 Expansion, grounded on the reference service's FxQuote/
// fetch_fx_quote (confidential_http_service.rs) against the Frankfurter
// public FX API.
type FxQuote struct {
	Provider string  `json:"provider"`
	Base     string  `json:"base"`
	Quote    string  `json:"quote"`
	Rate     float64 `json:"rate"`
	AsOfDate string  `json:"as_of_date"`
}

type frankfurterLatestResponse struct {
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// fetchFXQuote performs a best-effort GET against baseURL's /latest
// endpoint, retried at most once by the retryable client (RetryMax = 1).
// Every error is returned to the caller to swallow, never to
// affect decision/risk_score/attestation_hash.
func fetchFXQuote(ctx context.Context, baseURL, baseCurrency, quoteCurrency string) (*FxQuote, error) {
	base := strings.ToUpper(baseCurrency)
	quote := strings.ToUpper(quoteCurrency)
	endpoint := fmt.Sprintf("%s/latest?base=%s&symbols=%s", strings.TrimRight(baseURL, "/"), base, quote)

	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil
	client.HTTPClient.Timeout = 5 * time.Second

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building fx request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fx provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fx provider returned non-success status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading fx provider response: %w", err)
	}
	var payload frankfurterLatestResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing fx provider payload: %w", err)
	}
	rate, ok := payload.Rates[quote]
	if !ok {
		return nil, fmt.Errorf("fx provider payload missing rate for %s", quote)
	}

	return &FxQuote{
		Provider: "frankfurter",
		Base:     base,
		Quote:    quote,
		Rate:     rate,
		AsOfDate: payload.Date,
	}, nil
}
