package marketdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DexScreener pair payload. Only the fields the scorer and simulator read are
// mapped.
type Pair struct {
	ChainID     string       `json:"chainId"`
	DexID       string       `json:"dexId"`
	URL         string       `json:"url"`
	PairAddress string       `json:"pairAddress"`
	BaseToken   PairToken    `json:"baseToken"`
	QuoteToken  PairToken    `json:"quoteToken"`
	PriceNative string       `json:"priceNative"`
	PriceUsd    string       `json:"priceUsd"`
	Txns        Transactions `json:"txns"`
	Volume      Horizons     `json:"volume"`
	PriceChange Horizons     `json:"priceChange"`
	Liquidity   Liquidity    `json:"liquidity"`
	Fdv         float64      `json:"fdv"`
	MarketCap   float64      `json:"marketCap"`
	CreatedAtMs int64        `json:"pairCreatedAt"`
}

type PairToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// Transactions holds buy/sell counts per horizon.
type Transactions struct {
	M5  BuysSells `json:"m5"`
	H1  BuysSells `json:"h1"`
	H6  BuysSells `json:"h6"`
	H24 BuysSells `json:"h24"`
}

type BuysSells struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// Horizons is used for both volume (USD) and price change (percent).
type Horizons struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

type Liquidity struct {
	Usd   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

type pairsEnvelope struct {
	SchemaVersion string `json:"schemaVersion"`
	Pairs         []Pair `json:"pairs"`
}

// Snapshot is a point-in-time market view of one token, taken from its most
// liquid pair. A snapshot without a pair address carries no data.
type Snapshot struct {
	TokenAddress string       `json:"token_address"`
	Symbol       string       `json:"symbol"`
	PairAddress  string       `json:"pair_address"`
	DexID        string       `json:"dex_id"`
	PriceUSD     float64      `json:"price_usd"`
	LiquidityUSD float64      `json:"liquidity_usd"`
	Volume       Horizons     `json:"volume"`
	PriceChange  Horizons     `json:"price_change"`
	Txns         Transactions `json:"txns"`
	FDV          float64      `json:"fdv"`
	MarketCap    float64      `json:"market_cap"`
	FetchedAt    time.Time    `json:"fetched_at"`
}

// IsEmpty reports whether the upstream returned no usable pair.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || s.PairAddress == ""
}

// EffectiveMarketCap returns the reported market cap, falling back to the
// fully diluted valuation when the source has none.
func (s *Snapshot) EffectiveMarketCap() float64 {
	if s.MarketCap > 0 {
		return s.MarketCap
	}
	return s.FDV
}

// parsePairs accepts both the tokens/v1 array body and the legacy
// {"pairs": [...]} envelope.
func parsePairs(body []byte) ([]Pair, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var pairs []Pair
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return nil, fmt.Errorf("failed to decode pairs: %w", err)
		}
		return pairs, nil
	}
	var env pairsEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to decode pairs envelope: %w", err)
	}
	return env.Pairs, nil
}

// snapshotFromPairs picks the most liquid pair quoting tokenAddress as base.
// Pairs where the token is only the quote side describe another token, so
// without a base pair the snapshot stays empty.
func snapshotFromPairs(tokenAddress string, pairs []Pair, fetchedAt time.Time) *Snapshot {
	snap := &Snapshot{TokenAddress: tokenAddress, FetchedAt: fetchedAt}

	var best *Pair
	for i := range pairs {
		p := &pairs[i]
		if !strings.EqualFold(p.BaseToken.Address, tokenAddress) {
			continue
		}
		if best == nil || p.Liquidity.Usd > best.Liquidity.Usd {
			best = p
		}
	}
	if best == nil {
		return snap
	}

	price, _ := strconv.ParseFloat(best.PriceUsd, 64)

	snap.Symbol = best.BaseToken.Symbol
	snap.PairAddress = best.PairAddress
	snap.DexID = best.DexID
	snap.PriceUSD = price
	snap.LiquidityUSD = best.Liquidity.Usd
	snap.Volume = best.Volume
	snap.PriceChange = best.PriceChange
	snap.Txns = best.Txns
	snap.FDV = best.Fdv
	snap.MarketCap = best.MarketCap
	return snap
}
