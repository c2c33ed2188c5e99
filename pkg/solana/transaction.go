package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"

	"tokentrust/pkg/utils"
)

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFinalized TxStatus = "finalized"
	TxStatusFailed    TxStatus = "error"
)

var (
	ErrTransactionFailed = errors.New("transaction failed on chain")
	// ErrBlockHeightExceeded means the blockhash expired before the
	// transaction landed, so it can no longer be processed.
	ErrBlockHeightExceeded = errors.New("block height exceeded")
	// ErrConfirmationTimeout means the outcome is unknown.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

// BlockHeightReader is implemented by *rpc.Client.
type BlockHeightReader interface {
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

// ConfirmOptions bounds WaitForConfirmation.
type ConfirmOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	// LastValidBlockHeight, when set and the client can report block
	// height, lets an expired transaction fail fast with
	// ErrBlockHeightExceeded.
	LastValidBlockHeight uint64
}

// CheckTransactionStatus reports the cluster's view of signature.
func CheckTransactionStatus(ctx context.Context, client ChainClient, signature solana.Signature) (TxStatus, error) {
	res, err := client.GetSignatureStatuses(ctx, true, signature)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return TxStatusPending, nil
		}
		return "", fmt.Errorf("failed to get signature status: %w", err)
	}

	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return TxStatusPending, nil
	}

	status := res.Value[0]
	if status.Err != nil {
		errJSON, _ := json.Marshal(status.Err)
		return TxStatusFailed, fmt.Errorf("%w: %s", ErrTransactionFailed, string(errJSON))
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return TxStatusFinalized, nil
	case rpc.ConfirmationStatusConfirmed:
		return TxStatusConfirmed, nil
	}
	return TxStatusPending, nil
}

// WaitForConfirmation polls until signature reaches confirmed or finalized.
func WaitForConfirmation(ctx context.Context, client ChainClient, clock utils.Clock, signature solana.Signature, opts ConfirmOptions) (TxStatus, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	deadline := clock.Now().Add(opts.Timeout)
	heights, _ := client.(BlockHeightReader)

	for {
		status, err := CheckTransactionStatus(ctx, client, signature)
		if err != nil {
			return status, err
		}
		if status == TxStatusConfirmed || status == TxStatusFinalized {
			return status, nil
		}

		if heights != nil && opts.LastValidBlockHeight > 0 {
			height, err := heights.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
			if err == nil && height > opts.LastValidBlockHeight {
				return TxStatusPending, fmt.Errorf("%w: height %d > last valid %d",
					ErrBlockHeightExceeded, height, opts.LastValidBlockHeight)
			}
		}

		if !clock.Now().Before(deadline) {
			return TxStatusPending, fmt.Errorf("%w after %s", ErrConfirmationTimeout, opts.Timeout)
		}

		log.WithFields(log.Fields{
			"signature": signature.String(),
			"status":    status,
		}).Debug("waiting for confirmation")

		if err := clock.Sleep(ctx, opts.PollInterval); err != nil {
			return TxStatusPending, err
		}
	}
}
