package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"

	solanaUtils "tokentrust/pkg/solana"
	"tokentrust/pkg/utils"
)

const (
	DefaultMaxAttempts     = 3
	DefaultRetryDelay      = 5 * time.Second
	DefaultSlippageBps     = 100
	DefaultTokenDecimals   = 6
	DefaultMinTradeSize    = 0.01
	DefaultConfirmTimeout  = 60 * time.Second
	DefaultConfirmInterval = 2 * time.Second

	lamportsPerSOL = 1_000_000_000
	solDecimals    = 9
)

// Error types reported in Details.ErrorType.
const (
	ErrorTypeInvalidRequest     = "invalid_request"
	ErrorTypeBelowMinimum       = "below_minimum"
	ErrorTypeNoEndpoint         = "no_healthy_endpoint"
	ErrorTypeQuote              = "quote_unavailable"
	ErrorTypeSwap               = "swap_unavailable"
	ErrorTypeSigning            = "signing_failed"
	ErrorTypeSubmission         = "submission_failed"
	ErrorTypeConfirmation       = "confirmation_failed"
	ErrorTypeCancelled          = "cancelled"
	ErrorTypeRetriesExhausted   = "retries_exhausted"
	ErrorTypeTransactionDecode  = "transaction_decode_failed"
	ErrorTypeStatusVerification = "status_verification_failed"
)

var (
	ErrBelowMinimum   = errors.New("trade amount below minimum trade size")
	ErrInvalidRequest = errors.New("invalid trade request")
)

// Venue quotes and builds swaps. *utils.JupiterClient satisfies it.
type Venue interface {
	Quote(ctx context.Context, p utils.QuoteParams) (*utils.JupiterQuoteResponse, error)
	BuildSwap(ctx context.Context, quote *utils.JupiterQuoteResponse, userPublicKey string) (*utils.JupiterSwapResponse, error)
}

// Signer holds the trading wallet. *solana.KeySigner satisfies it.
type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// Connector hands out a chain client. *solana.EndpointPool satisfies it.
type Connector interface {
	Connect(ctx context.Context) (solanaUtils.ChainClient, string, error)
}

type Config struct {
	MinTradeSize       float64
	DefaultSlippageBps int
	MaxAttempts        int
	RetryDelay         time.Duration
	ConfirmTimeout     time.Duration
	ConfirmInterval    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinTradeSize:       DefaultMinTradeSize,
		DefaultSlippageBps: DefaultSlippageBps,
		MaxAttempts:        DefaultMaxAttempts,
		RetryDelay:         DefaultRetryDelay,
		ConfirmTimeout:     DefaultConfirmTimeout,
		ConfirmInterval:    DefaultConfirmInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinTradeSize < 0 {
		c.MinTradeSize = 0
	}
	if c.DefaultSlippageBps <= 0 {
		c.DefaultSlippageBps = d.DefaultSlippageBps
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = d.ConfirmInterval
	}
	return c
}

// Request describes one swap. Amount is in SOL for buys and in whole
// tokens for sells.
type Request struct {
	Token       string
	Amount      float64
	SlippageBps int
	IsSell      bool
	// TokenDecimals defaults to DefaultTokenDecimals.
	TokenDecimals uint8
}

// Details carries the diagnostic context of an execution.
type Details struct {
	ErrorType      string  `json:"error_type,omitempty"`
	Amount         float64 `json:"amount"`
	Token          string  `json:"token"`
	IsSell         bool    `json:"is_sell"`
	Attempts       int     `json:"attempts"`
	Endpoint       string  `json:"endpoint,omitempty"`
	OutAmount      float64 `json:"out_amount,omitempty"`
	PriceImpactPct float64 `json:"price_impact_pct,omitempty"`
}

type Result struct {
	Success   bool    `json:"success"`
	Signature string  `json:"signature,omitempty"`
	Err       error   `json:"-"`
	Details   Details `json:"details"`
}

// Executor submits approved swaps and retries stale-blockhash failures.
type Executor struct {
	cfg       Config
	venue     Venue
	signer    Signer
	connector Connector
	clock     utils.Clock
}

func NewExecutor(cfg Config, venue Venue, signer Signer, connector Connector, clock utils.Clock) *Executor {
	if clock == nil {
		clock = utils.SystemClock()
	}
	return &Executor{
		cfg:       cfg.withDefaults(),
		venue:     venue,
		signer:    signer,
		connector: connector,
		clock:     clock,
	}
}

// attemptError tags a failure with its error type.
type attemptError struct {
	kind string
	err  error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

func fail(kind string, err error) error {
	return &attemptError{kind: kind, err: err}
}

// IsRetryable reports whether err means the transaction referenced stale
// chain state and the whole cycle may be repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, solanaUtils.ErrBlockHeightExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"blockhash not found",
		"blockhashnotfound",
		"block height exceeded",
		"blockheightexceeded",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Execute runs the swap. It never returns nil.
func (e *Executor) Execute(ctx context.Context, req Request) *Result {
	res := &Result{Details: Details{Token: req.Token, Amount: req.Amount, IsSell: req.IsSell}}
	logger := log.WithFields(log.Fields{"token": req.Token, "amount": req.Amount, "sell": req.IsSell})

	if req.Token == "" || !(req.Amount > 0) || math.IsInf(req.Amount, 0) {
		return e.finish(res, logger, fail(ErrorTypeInvalidRequest, fmt.Errorf("%w: token %q amount %v", ErrInvalidRequest, req.Token, req.Amount)))
	}
	if !req.IsSell && req.Amount < e.cfg.MinTradeSize {
		return e.finish(res, logger, fail(ErrorTypeBelowMinimum, fmt.Errorf("%w: %.6f < %.6f SOL", ErrBelowMinimum, req.Amount, e.cfg.MinTradeSize)))
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return e.finish(res, logger, fail(ErrorTypeCancelled, err))
		}
		res.Details.Attempts = attempt

		sig, err := e.attempt(ctx, req, &res.Details)
		if err == nil {
			res.Success = true
			res.Signature = sig.String()
			logger.WithFields(log.Fields{
				"signature": res.Signature,
				"attempts":  attempt,
				"endpoint":  res.Details.Endpoint,
			}).Info("trade executed")
			return res
		}
		lastErr = err

		if !IsRetryable(err) {
			return e.finish(res, logger, err)
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		logger.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   e.cfg.RetryDelay,
			"error":   err,
		}).Warn("stale chain state, retrying trade")

		if err := e.clock.Sleep(ctx, e.cfg.RetryDelay); err != nil {
			return e.finish(res, logger, fail(ErrorTypeCancelled, err))
		}
	}

	return e.finish(res, logger, fail(ErrorTypeRetriesExhausted,
		fmt.Errorf("giving up after %d attempts: %w", e.cfg.MaxAttempts, lastErr)))
}

func (e *Executor) finish(res *Result, logger *log.Entry, err error) *Result {
	res.Success = false
	res.Err = err
	var ae *attemptError
	if errors.As(err, &ae) {
		res.Details.ErrorType = ae.kind
	} else {
		res.Details.ErrorType = ErrorTypeSubmission
	}
	logger.WithFields(log.Fields{
		"error_type": res.Details.ErrorType,
		"attempts":   res.Details.Attempts,
		"endpoint":   res.Details.Endpoint,
		"error":      err,
	}).Error("trade execution failed")
	return res
}

// attempt performs one full quote, build, sign, send and confirm cycle.
// Nothing from a previous attempt is reused.
func (e *Executor) attempt(ctx context.Context, req Request, details *Details) (solana.Signature, error) {
	client, endpoint, err := e.connector.Connect(ctx)
	if err != nil {
		return solana.Signature{}, fail(ErrorTypeNoEndpoint, err)
	}
	details.Endpoint = endpoint

	params, outDecimals := e.quoteParams(req)
	quote, err := e.venue.Quote(ctx, params)
	if err != nil {
		return solana.Signature{}, fail(ErrorTypeQuote, err)
	}
	if out, err := quote.OutAmountUint(); err == nil {
		details.OutAmount = float64(out) / math.Pow10(int(outDecimals))
	}
	details.PriceImpactPct = quote.PriceImpact()

	swap, err := e.venue.BuildSwap(ctx, quote, e.signer.PublicKey().String())
	if err != nil {
		return solana.Signature{}, fail(ErrorTypeSwap, err)
	}

	tx, err := solana.TransactionFromBase64(swap.SwapTransaction)
	if err != nil {
		return solana.Signature{}, fail(ErrorTypeTransactionDecode, fmt.Errorf("failed to decode swap transaction: %w", err))
	}
	if err := e.signer.SignTransaction(ctx, tx); err != nil {
		return solana.Signature{}, fail(ErrorTypeSigning, err)
	}

	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fail(ErrorTypeSubmission, fmt.Errorf("failed to send transaction: %w", err))
	}

	if _, err := solanaUtils.WaitForConfirmation(ctx, client, e.clock, sig, solanaUtils.ConfirmOptions{
		Timeout:              e.cfg.ConfirmTimeout,
		PollInterval:         e.cfg.ConfirmInterval,
		LastValidBlockHeight: swap.LastValidBlockHeight,
	}); err != nil {
		return sig, fail(ErrorTypeConfirmation, fmt.Errorf("transaction %s: %w", sig, err))
	}

	status, err := solanaUtils.CheckTransactionStatus(ctx, client, sig)
	if err != nil {
		return sig, fail(ErrorTypeStatusVerification, fmt.Errorf("transaction %s: %w", sig, err))
	}
	if status == solanaUtils.TxStatusPending || status == solanaUtils.TxStatusFailed {
		return sig, fail(ErrorTypeStatusVerification, fmt.Errorf("transaction %s: unexpected status %s after confirmation", sig, status))
	}
	return sig, nil
}

func (e *Executor) quoteParams(req Request) (utils.QuoteParams, uint8) {
	decimals := req.TokenDecimals
	if decimals == 0 {
		decimals = DefaultTokenDecimals
	}
	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = e.cfg.DefaultSlippageBps
	}

	if req.IsSell {
		return utils.QuoteParams{
			InputMint:   req.Token,
			OutputMint:  utils.WSOLMint,
			Amount:      uint64(math.Round(req.Amount * math.Pow10(int(decimals)))),
			SlippageBps: slippage,
		}, solDecimals
	}
	return utils.QuoteParams{
		InputMint:   utils.WSOLMint,
		OutputMint:  req.Token,
		Amount:      uint64(math.Round(req.Amount * lamportsPerSOL)),
		SlippageBps: slippage,
	}, decimals
}
