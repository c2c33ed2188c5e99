package solana

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// ErrAccountReadUnsupported is returned when the pool's client cannot read
// account state.
var ErrAccountReadUnsupported = errors.New("chain client cannot read accounts")

// AccountReader reads mint and wallet state. *rpc.Client satisfies it.
type AccountReader interface {
	GetTokenSupply(ctx context.Context, tokenMint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
}

// MintDecimals returns the decimals configured on mint.
func MintDecimals(ctx context.Context, client AccountReader, mint string) (uint8, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	resp, err := client.GetTokenSupply(ctx, mintKey, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get token supply for %s: %w", mint, err)
	}
	if resp == nil || resp.Value == nil {
		return 0, fmt.Errorf("get token supply for %s: empty response", mint)
	}
	return resp.Value.Decimals, nil
}

// GetSolBalance returns owner's balance in SOL.
func GetSolBalance(ctx context.Context, client AccountReader, owner solana.PublicKey) (float64, error) {
	resp, err := client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get balance for %s: %w", owner, err)
	}
	return float64(resp.Value) / float64(solana.LAMPORTS_PER_SOL), nil
}

// AccountInfo reads account state through the first healthy endpoint of a
// pool. Mint decimals never change, so they are cached.
type AccountInfo struct {
	pool *EndpointPool

	mu       sync.Mutex
	decimals map[string]uint8
}

func NewAccountInfo(pool *EndpointPool) *AccountInfo {
	return &AccountInfo{pool: pool, decimals: make(map[string]uint8)}
}

func (a *AccountInfo) reader(ctx context.Context) (AccountReader, error) {
	client, url, err := a.pool.Connect(ctx)
	if err != nil {
		return nil, err
	}
	reader, ok := client.(AccountReader)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountReadUnsupported, url)
	}
	return reader, nil
}

// TokenDecimals returns the mint's decimals, querying the chain on first use.
func (a *AccountInfo) TokenDecimals(ctx context.Context, mint string) (uint8, error) {
	a.mu.Lock()
	d, ok := a.decimals[mint]
	a.mu.Unlock()
	if ok {
		return d, nil
	}

	reader, err := a.reader(ctx)
	if err != nil {
		return 0, err
	}
	d, err = MintDecimals(ctx, reader, mint)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.decimals[mint] = d
	a.mu.Unlock()
	log.WithFields(log.Fields{"mint": mint, "decimals": d}).Debug("mint decimals cached")
	return d, nil
}

// WalletBalance returns owner's SOL balance.
func (a *AccountInfo) WalletBalance(ctx context.Context, owner solana.PublicKey) (float64, error) {
	reader, err := a.reader(ctx)
	if err != nil {
		return 0, err
	}
	return GetSolBalance(ctx, reader, owner)
}
