package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	solanaUtils "tokentrust/pkg/solana"
	"tokentrust/pkg/utils"
)

type fakeSigner struct {
	key solana.PrivateKey
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{key: solana.NewWallet().PrivateKey}
}

func (s *fakeSigner) PublicKey() solana.PublicKey { return s.key.PublicKey() }

func (s *fakeSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	_, err := tx.PartialSign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	return err
}

type fakeVenue struct {
	payer     solana.PublicKey
	quotes    []utils.QuoteParams
	quoteErr  error
	swapErr   error
	swapCalls int
}

func (v *fakeVenue) Quote(ctx context.Context, p utils.QuoteParams) (*utils.JupiterQuoteResponse, error) {
	v.quotes = append(v.quotes, p)
	if v.quoteErr != nil {
		return nil, v.quoteErr
	}
	return &utils.JupiterQuoteResponse{
		InputMint:      p.InputMint,
		OutputMint:     p.OutputMint,
		OutAmount:      "2500000",
		PriceImpactPct: "0.12",
	}, nil
}

func (v *fakeVenue) BuildSwap(ctx context.Context, q *utils.JupiterQuoteResponse, user string) (*utils.JupiterSwapResponse, error) {
	v.swapCalls++
	if v.swapErr != nil {
		return nil, v.swapErr
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, v.payer, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{byte(v.swapCalls)},
		solana.TransactionPayer(v.payer),
	)
	if err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &utils.JupiterSwapResponse{SwapTransaction: base64.StdEncoding.EncodeToString(raw)}, nil
}

// fakeChain fails sends with the queued errors, then succeeds.
type fakeChain struct {
	sendErrs []error
	sends    int
	status   *rpc.SignatureStatusesResult
}

func (c *fakeChain) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	c.sends++
	if c.sends <= len(c.sendErrs) {
		return solana.Signature{}, c.sendErrs[c.sends-1]
	}
	return tx.Signatures[0], nil
}

func (c *fakeChain) GetSignatureStatuses(ctx context.Context, history bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	status := c.status
	if status == nil {
		status = &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

type fakeConnector struct {
	chain *fakeChain
	err   error
	calls int
}

func (f *fakeConnector) Connect(ctx context.Context) (solanaUtils.ChainClient, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.chain, "https://rpc.test", nil
}

type harness struct {
	exec      *Executor
	venue     *fakeVenue
	chain     *fakeChain
	connector *fakeConnector
	clock     *utils.FakeClock
}

func newHarness(sendErrs ...error) *harness {
	signer := newFakeSigner()
	h := &harness{
		venue: &fakeVenue{payer: signer.PublicKey()},
		chain: &fakeChain{sendErrs: sendErrs},
		clock: utils.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.connector = &fakeConnector{chain: h.chain}
	h.exec = NewExecutor(DefaultConfig(), h.venue, signer, h.connector, h.clock)
	return h
}

func TestExecuteRetriesStaleBlockhash(t *testing.T) {
	stale := errors.New("Transaction simulation failed: Blockhash not found")
	h := newHarness(stale, stale)

	res := h.exec.Execute(context.Background(), Request{Token: "mint", Amount: 0.5})

	require.True(t, res.Success, "%v", res.Err)
	assert.NotEmpty(t, res.Signature)
	assert.Equal(t, 3, res.Details.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.clock.Sleeps())
	assert.Len(t, h.venue.quotes, 3, "each attempt re-quotes")
	assert.Equal(t, 3, h.venue.swapCalls)
	assert.Equal(t, uint64(500_000_000), h.venue.quotes[0].Amount)
	assert.InDelta(t, 2.5, res.Details.OutAmount, 1e-9)
	assert.InDelta(t, 0.12, res.Details.PriceImpactPct, 1e-9)
}

func TestExecuteGivesUpAfterThreeAttempts(t *testing.T) {
	expired := errors.New("TransactionExpiredBlockheightExceeded")
	h := newHarness(expired, expired, expired, expired)

	res := h.exec.Execute(context.Background(), Request{Token: "mint", Amount: 0.5})

	assert.False(t, res.Success)
	assert.Equal(t, ErrorTypeRetriesExhausted, res.Details.ErrorType)
	assert.Equal(t, 3, res.Details.Attempts)
	assert.Equal(t, 3, h.chain.sends)
	assert.Len(t, h.clock.Sleeps(), 2)
	assert.ErrorIs(t, res.Err, expired)
}

func TestExecuteTerminalErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Below minimum never quotes", func(t *testing.T) {
		h := newHarness()
		res := h.exec.Execute(ctx, Request{Token: "mint", Amount: 0.001})
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, ErrBelowMinimum)
		assert.Equal(t, ErrorTypeBelowMinimum, res.Details.ErrorType)
		assert.Empty(t, h.venue.quotes)
		assert.Zero(t, h.connector.calls)
	})

	t.Run("Sells are exempt from minimum", func(t *testing.T) {
		h := newHarness()
		res := h.exec.Execute(ctx, Request{Token: "mint", Amount: 0.001, IsSell: true, TokenDecimals: 6})
		require.True(t, res.Success, "%v", res.Err)
		require.Len(t, h.venue.quotes, 1)
		assert.Equal(t, uint64(1000), h.venue.quotes[0].Amount)
		assert.Equal(t, utils.WSOLMint, h.venue.quotes[0].OutputMint)
	})

	t.Run("Missing quote is not retried", func(t *testing.T) {
		h := newHarness()
		h.venue.quoteErr = utils.ErrQuoteUnavailable
		res := h.exec.Execute(ctx, Request{Token: "mint", Amount: 1})
		assert.False(t, res.Success)
		assert.Equal(t, ErrorTypeQuote, res.Details.ErrorType)
		assert.Equal(t, 1, res.Details.Attempts)
		assert.Empty(t, h.clock.Sleeps())
	})

	t.Run("Missing swap payload is not retried", func(t *testing.T) {
		h := newHarness()
		h.venue.swapErr = utils.ErrSwapUnavailable
		res := h.exec.Execute(ctx, Request{Token: "mint", Amount: 1})
		assert.Equal(t, ErrorTypeSwap, res.Details.ErrorType)
		assert.Equal(t, 1, res.Details.Attempts)
	})

	t.Run("All endpoints down", func(t *testing.T) {
		h := newHarness()
		h.connector.err = solanaUtils.ErrNoHealthyEndpoint
		res := h.exec.Execute(ctx, Request{Token: "mint", Amount: 1})
		assert.ErrorIs(t, res.Err, solanaUtils.ErrNoHealthyEndpoint)
		assert.Equal(t, ErrorTypeNoEndpoint, res.Details.ErrorType)
		assert.Equal(t, "mint", res.Details.Token)
		assert.Equal(t, 1.0, res.Details.Amount)
	})

	t.Run("Other send errors are terminal", func(t *testing.T) {
		h := newHarness(errors.New("insufficient funds for rent"))
		res := h.exec.Execute(ctx, Request{Token: "mint", Amount: 1})
		assert.Equal(t, ErrorTypeSubmission, res.Details.ErrorType)
		assert.Equal(t, 1, h.chain.sends)
	})

	t.Run("On-chain failure is terminal", func(t *testing.T) {
		h := newHarness()
		h.chain.status = &rpc.SignatureStatusesResult{Err: map[string]any{"InstructionError": []any{0, "Custom"}}}
		res := h.exec.Execute(ctx, Request{Token: "mint", Amount: 1})
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, solanaUtils.ErrTransactionFailed)
		assert.Equal(t, ErrorTypeConfirmation, res.Details.ErrorType)
	})

	t.Run("Invalid amount", func(t *testing.T) {
		h := newHarness()
		res := h.exec.Execute(ctx, Request{Token: "mint", Amount: -1})
		assert.ErrorIs(t, res.Err, ErrInvalidRequest)
	})
}

func TestExecuteStopsWhenCancelled(t *testing.T) {
	stale := errors.New("Blockhash not found")
	h := newHarness(stale, stale)
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel as soon as the first attempt is under way.
	h.exec.venue = cancelOnQuote{Venue: h.venue, cancel: cancel}

	res := h.exec.Execute(ctx, Request{Token: "mint", Amount: 1})
	assert.False(t, res.Success)
	assert.Equal(t, ErrorTypeCancelled, res.Details.ErrorType)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, h.chain.sends)
	assert.Len(t, h.venue.quotes, 1)
}

type cancelOnQuote struct {
	Venue
	cancel context.CancelFunc
}

func (c cancelOnQuote) Quote(ctx context.Context, p utils.QuoteParams) (*utils.JupiterQuoteResponse, error) {
	q, err := c.Venue.Quote(ctx, p)
	c.cancel()
	return q, err
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("Blockhash not found")))
	assert.True(t, IsRetryable(errors.New("TransactionExpiredBlockheightExceeded")))
	assert.True(t, IsRetryable(solanaUtils.ErrBlockHeightExceeded))
	assert.False(t, IsRetryable(solanaUtils.ErrConfirmationTimeout))
	assert.False(t, IsRetryable(errors.New("custom program error: 0x1771")))
	assert.False(t, IsRetryable(nil))
}
