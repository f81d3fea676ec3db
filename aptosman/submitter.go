package aptosman

import (
	"context"
	"fmt"

	"github.com/aptos-labs/aptos-go-sdk"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/spv-bridge/common"
)

// entrySubmitter runs one entry function of the bridge module to completion.
type entrySubmitter interface {
	Submit(ctx context.Context, function string, args [][]byte) (txHash string, err error)
}

// sdkSubmitter signs and submits with the aptos SDK.
type sdkSubmitter struct {
	client  *aptos.Client
	account *aptos.Account
	module  aptos.ModuleId
}

func (s *sdkSubmitter) Submit(ctx context.Context, function string, args [][]byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rawTxn, err := s.client.BuildTransaction(s.account.AccountAddress(), aptos.TransactionPayload{
		Payload: &aptos.EntryFunction{
			Module:   s.module,
			Function: function,
			ArgTypes: []aptos.TypeTag{},
			Args:     args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %v", err)
	}

	signedTxn, err := rawTxn.SignedTransaction(s.account)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %v", err)
	}

	submitResult, err := s.client.SubmitTransaction(signedTxn)
	if err != nil {
		// the node's message carries the simulation's abort code
		return "", fmt.Errorf("failed to submit transaction: %v", err)
	}

	newLogger := logger.WithFields(logger.Fields{
		"function": function,
		"txHash":   common.Shorten(submitResult.Hash, 8),
	})
	newLogger.Debug("submitted bridge transaction")

	userTxn, err := s.client.WaitForTransaction(submitResult.Hash)
	if err != nil {
		return submitResult.Hash, fmt.Errorf("failed to wait for transaction: %v", err)
	}
	if !userTxn.Success {
		newLogger.Warn("bridge transaction aborted")
		return submitResult.Hash, fmt.Errorf("%w: %s", ErrTxAborted, userTxn.VmStatus)
	}

	newLogger.WithField("version", userTxn.Version).Debug("bridge transaction committed")
	return submitResult.Hash, nil
}
