// Package priceapi is the HTTP client for the external price API,
// used only by the exit manager for batch price lookups.
package priceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Client fetches spot prices for a batch of mints in one request.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 2 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     10,
			},
		},
	}
}

type priceResponse struct {
	Data map[string]struct {
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}

// BatchPrices fetches the current price for every mint in mints,
// skipping any mint absent from the response rather than erroring.
func (c *Client) BatchPrices(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]decimal.Decimal, error) {
	if len(mints) == 0 {
		return map[solana.PublicKey]decimal.Decimal{}, nil
	}

	ids := make([]string, len(mints))
	for i, m := range mints {
		ids[i] = m.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/price?ids="+strings.Join(ids, ","), nil)
	if err != nil {
		return nil, fmt.Errorf("priceapi: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("priceapi: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("priceapi: unexpected status %d", resp.StatusCode)
	}

	var out priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("priceapi: decode: %w", err)
	}

	prices := make(map[solana.PublicKey]decimal.Decimal, len(mints))
	for _, m := range mints {
		if p, ok := out.Data[m.String()]; ok {
			prices[m] = p.Price
		}
	}
	return prices, nil
}
