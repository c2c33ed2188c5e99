package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultJupiterURL = "https://lite-api.jup.ag"
	WSOLMint          = "So11111111111111111111111111111111111111112"
)

var (
	ErrQuoteUnavailable = errors.New("swap quote unavailable")
	ErrSwapUnavailable  = errors.New("swap transaction unavailable")
)

// JupiterQuoteResponse represents the response structure from Jupiter API
type JupiterQuoteResponse struct {
	InputMint            string      `json:"inputMint"`
	InAmount             string      `json:"inAmount"`
	OutputMint           string      `json:"outputMint"`
	OutAmount            string      `json:"outAmount"`
	OtherAmountThreshold string      `json:"otherAmountThreshold"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int         `json:"slippageBps"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RoutePlan `json:"routePlan"`
	ContextSlot          int         `json:"contextSlot"`
	TimeTaken            float64     `json:"timeTaken"`
	SwapUsdValue         string      `json:"swapUsdValue"`
	Error                string      `json:"error,omitempty"`

	// raw is forwarded verbatim to the swap endpoint.
	raw json.RawMessage
}

// RoutePlan represents a route plan in the Jupiter response
type RoutePlan struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
	Bps      int      `json:"bps"`
}

// SwapInfo represents swap information in a route plan
type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// OutAmountUint parses OutAmount.
func (q *JupiterQuoteResponse) OutAmountUint() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

// PriceImpact parses PriceImpactPct, returning 0 when absent.
func (q *JupiterQuoteResponse) PriceImpact() float64 {
	v, err := strconv.ParseFloat(q.PriceImpactPct, 64)
	if err != nil {
		return 0
	}
	return v
}

// JupiterSwapResponse carries the unsigned, base64 encoded swap transaction.
type JupiterSwapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
	Error                     string `json:"error,omitempty"`
}

// QuoteParams describes the swap to quote.
type QuoteParams struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
	// RestrictIntermediateTokens limits routing to liquid intermediate tokens.
	RestrictIntermediateTokens bool
}

// JupiterClient talks to the Jupiter swap v1 API.
type JupiterClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewJupiterClient creates a client; an empty baseURL selects the public
// lite API.
func NewJupiterClient(baseURL string, httpClient *http.Client) *JupiterClient {
	if baseURL == "" {
		baseURL = DefaultJupiterURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &JupiterClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Quote retrieves a swap quote. A missing route or an error body is reported
// as ErrQuoteUnavailable.
func (c *JupiterClient) Quote(ctx context.Context, p QuoteParams) (*JupiterQuoteResponse, error) {
	if p.Amount == 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrQuoteUnavailable)
	}

	params := url.Values{}
	params.Add("inputMint", p.InputMint)
	params.Add("outputMint", p.OutputMint)
	params.Add("amount", strconv.FormatUint(p.Amount, 10))
	params.Add("slippageBps", strconv.Itoa(p.SlippageBps))
	params.Add("restrictIntermediateTokens", strconv.FormatBool(p.RestrictIntermediateTokens))

	fullURL := fmt.Sprintf("%s/swap/v1/quote?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	var quote JupiterQuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JSON response: %v", ErrQuoteUnavailable, err)
	}
	if quote.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrQuoteUnavailable, quote.Error)
	}
	if quote.OutAmount == "" || quote.OutAmount == "0" {
		return nil, fmt.Errorf("%w: no route for %s -> %s", ErrQuoteUnavailable, p.InputMint, p.OutputMint)
	}
	quote.raw = body
	return &quote, nil
}

// BuildSwap asks Jupiter to build the swap transaction for quote, paid by
// userPublicKey.
func (c *JupiterClient) BuildSwap(ctx context.Context, quote *JupiterQuoteResponse, userPublicKey string) (*JupiterSwapResponse, error) {
	if quote == nil {
		return nil, fmt.Errorf("%w: nil quote", ErrSwapUnavailable)
	}
	rawQuote := quote.raw
	if len(rawQuote) == 0 {
		b, err := json.Marshal(quote)
		if err != nil {
			return nil, fmt.Errorf("failed to encode quote: %w", err)
		}
		rawQuote = b
	}

	payload, err := json.Marshal(map[string]any{
		"quoteResponse":             rawQuote,
		"userPublicKey":             userPublicKey,
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap/v1/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSwapUnavailable, err)
	}

	var swap JupiterSwapResponse
	if err := json.Unmarshal(body, &swap); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JSON response: %v", ErrSwapUnavailable, err)
	}
	if swap.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSwapUnavailable, swap.Error)
	}
	if swap.SwapTransaction == "" {
		return nil, fmt.Errorf("%w: empty transaction payload", ErrSwapUnavailable)
	}
	return &swap, nil
}

func (c *JupiterClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP request failed with status: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
