// Package swapapi is the HTTP client for the external quote & swap-build
// API: a pooled-connection boundary collaborator, not part
// of the core decision logic.
package swapapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

// Client calls the quote and swap-build endpoints over a shared,
// pooled HTTP transport with bounded concurrency.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient constructs a Client. baseURL must not have a trailing slash.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 2 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     10,
			},
		},
	}
}

type quoteResponse struct {
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
}

// Quote fetches a swap quote for the given mint pair, amount and mode.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int, mode model.QuoteMode) (model.Quote, error) {
	swapMode := "ExactIn"
	if mode == model.ExactOut {
		swapMode = "ExactOut"
	}
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amountRaw, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("swapMode", swapMode)

	var out quoteResponse
	if err := c.getJSON(ctx, "/quote?"+q.Encode(), &out); err != nil {
		return model.Quote{}, fmt.Errorf("swapapi: quote: %w", err)
	}

	inAmt, err := strconv.ParseUint(out.InAmount, 10, 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("swapapi: parse inAmount %q: %w", out.InAmount, err)
	}
	outAmt, err := strconv.ParseUint(out.OutAmount, 10, 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("swapapi: parse outAmount %q: %w", out.OutAmount, err)
	}
	threshold, err := strconv.ParseUint(out.OtherAmountThreshold, 10, 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("swapapi: parse otherAmountThreshold %q: %w", out.OtherAmountThreshold, err)
	}
	impact, err := decimal.NewFromString(out.PriceImpactPct)
	if err != nil {
		impact = decimal.Zero
	}

	return model.Quote{
		InAmountRaw:          inAmt,
		OutAmountRaw:         outAmt,
		OtherAmountThreshold: threshold,
		PriceImpactPct:       impact,
		Mode:                 mode,
		FetchedAt:            time.Now(),
	}, nil
}

// BuildRequest is the request body for POST /swap.
type BuildRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

// Build requests a serialized, unsigned swap transaction for a
// previously fetched quote and returns its raw (base64-decoded) bytes.
func (c *Client) Build(ctx context.Context, quoteResponse json.RawMessage, userPubkey string, priorityFeeMicroLamports uint64) ([]byte, error) {
	body, err := json.Marshal(BuildRequest{
		QuoteResponse:                 quoteResponse,
		UserPublicKey:                 userPubkey,
		WrapAndUnwrapSol:              true,
		ComputeUnitPriceMicroLamports: priorityFeeMicroLamports,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("swapapi: marshal build request: %w", err)
	}

	var out struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := c.postJSON(ctx, "/swap", body, &out); err != nil {
		return nil, fmt.Errorf("swapapi: build: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(out.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("swapapi: decode swapTransaction: %w", err)
	}
	return raw, nil
}

// QuoteAndBuild fetches a fresh quote and immediately builds the
// corresponding unsigned swap transaction from it in one call (a
// GET /quote followed by a POST /swap),
// for callers (the BuildFunc closures wired into the quote cache,
// orchestrator and exit manager) that need build-ready bytes rather
// than a cached Quote snapshot, since a swap build must be made
// against the exact quote response that produced it.
func (c *Client) QuoteAndBuild(ctx context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int, mode model.QuoteMode, userPubkey string, priorityFeeMicroLamports uint64) ([]byte, model.Quote, error) {
	swapMode := "ExactIn"
	if mode == model.ExactOut {
		swapMode = "ExactOut"
	}
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amountRaw, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("swapMode", swapMode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, model.Quote{}, fmt.Errorf("swapapi: build quote request: %w", err)
	}
	c.setAuth(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, model.Quote{}, fmt.Errorf("swapapi: quote: %w", err)
	}
	defer resp.Body.Close()
	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.Quote{}, fmt.Errorf("swapapi: read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.Quote{}, fmt.Errorf("swapapi: quote: unexpected status %d: %s", resp.StatusCode, string(rawQuote))
	}

	var parsed quoteResponse
	if err := json.Unmarshal(rawQuote, &parsed); err != nil {
		return nil, model.Quote{}, fmt.Errorf("swapapi: decode quote response: %w", err)
	}
	inAmt, err := strconv.ParseUint(parsed.InAmount, 10, 64)
	if err != nil {
		return nil, model.Quote{}, fmt.Errorf("swapapi: parse inAmount %q: %w", parsed.InAmount, err)
	}
	outAmt, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil {
		return nil, model.Quote{}, fmt.Errorf("swapapi: parse outAmount %q: %w", parsed.OutAmount, err)
	}
	threshold, err := strconv.ParseUint(parsed.OtherAmountThreshold, 10, 64)
	if err != nil {
		return nil, model.Quote{}, fmt.Errorf("swapapi: parse otherAmountThreshold %q: %w", parsed.OtherAmountThreshold, err)
	}
	impact, err := decimal.NewFromString(parsed.PriceImpactPct)
	if err != nil {
		impact = decimal.Zero
	}
	inputPk, err := solana.PublicKeyFromBase58(inputMint)
	if err != nil {
		return nil, model.Quote{}, fmt.Errorf("swapapi: parse inputMint %q: %w", inputMint, err)
	}
	outputPk, err := solana.PublicKeyFromBase58(outputMint)
	if err != nil {
		return nil, model.Quote{}, fmt.Errorf("swapapi: parse outputMint %q: %w", outputMint, err)
	}
	snapshot := model.Quote{
		InputMint:            inputPk,
		OutputMint:           outputPk,
		InAmountRaw:          inAmt,
		OutAmountRaw:         outAmt,
		OtherAmountThreshold: threshold,
		PriceImpactPct:       impact,
		Mode:                 mode,
		FetchedAt:            time.Now(),
	}

	txBytes, err := c.Build(ctx, json.RawMessage(rawQuote), userPubkey, priorityFeeMicroLamports)
	if err != nil {
		return nil, model.Quote{}, err
	}
	return txBytes, snapshot, nil
}

// Warmup sends a lightweight request to each documented endpoint at
// startup.
func (c *Client) Warmup(ctx context.Context) {
	for _, path := range []string{"/tokens", "/quote", "/swap"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			continue
		}
		c.setAuth(req)
		resp, err := c.http.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
	}
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
