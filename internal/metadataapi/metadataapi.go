// Package metadataapi is the HTTP client for the external token
// metadata API, consumed by the quality filter's cache refresh.
package metadataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

// Client fetches a single mint's metadata snapshot.
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

type pair struct {
	Liquidity struct {
		Usd decimal.Decimal `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 decimal.Decimal `json:"h24"`
	} `json:"volume"`
	PairCreatedAt int64  `json:"pairCreatedAt"`
	PriceUsd      string `json:"priceUsd"`
}

// Fetch retrieves mint's current metadata. Returns an error if the
// mint has no pairs; callers must fail open on this.
func (c *Client) Fetch(ctx context.Context, mint solana.PublicKey) (model.TokenMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tokens/"+mint.String(), nil)
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("metadataapi: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("metadataapi: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.TokenMetadata{}, fmt.Errorf("metadataapi: unexpected status %d", resp.StatusCode)
	}

	var pairs []pair
	if err := json.NewDecoder(resp.Body).Decode(&pairs); err != nil {
		return model.TokenMetadata{}, fmt.Errorf("metadataapi: decode: %w", err)
	}
	if len(pairs) == 0 {
		return model.TokenMetadata{}, fmt.Errorf("metadataapi: no pairs for mint %s", mint.String())
	}
	p := pairs[0]

	price, err := decimal.NewFromString(p.PriceUsd)
	if err != nil {
		price = decimal.Zero
	}
	createdAt := time.UnixMilli(p.PairCreatedAt)

	return model.TokenMetadata{
		Mint:            mint,
		LiquidityUsdc:   p.Liquidity.Usd,
		Volume24hUsdc:   p.Volume.H24,
		TokenAgeSeconds: int64(time.Since(createdAt).Seconds()),
		PriceHistory:    []model.PricePoint{{At: time.Now(), Price: price}},
		LastUpdated:     time.Now(),
	}, nil
}
