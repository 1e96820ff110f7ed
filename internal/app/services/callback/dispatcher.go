// Package callback dispatches fulfilled randomness to consumer program
// instructions through the ledger client.
package callback

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/internal/chain"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/logger"
)

// Invoker submits instruction invocations to the ledger. *chain.Client
// satisfies it.
type Invoker interface {
	InvokeAndWait(ctx context.Context, inv chain.Invocation, waitTimeout time.Duration) (chain.ExecutionResult, error)
}

// Dispatcher invokes callback instructions for fulfilled entries. The
// dispatched code is untrusted: the dispatcher passes only the descriptor
// fixed at request time and treats any callee failure as opaque.
type Dispatcher struct {
	invoker     Invoker
	waitTimeout time.Duration
	log         *logger.Logger
}

// New creates a dispatcher using the given invoker.
func New(invoker Invoker, waitTimeout time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("callback")
	}
	if waitTimeout <= 0 {
		waitTimeout = chain.DefaultTxWaitTimeout
	}
	return &Dispatcher{invoker: invoker, waitTimeout: waitTimeout, log: log}
}

// Dispatch invokes the entry's callback instruction with the given
// randomness. The account list is taken verbatim from the descriptor
// (never substituted, extended, or reordered) so the target cannot be
// redirected after request time. A callee failure is returned wrapped in
// request.ErrCallbackExecutionFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, e request.Entry, randomness protocol.Randomness) (string, error) {
	if e.Callback == nil {
		return "", fmt.Errorf("entry %s has no callback descriptor", e.Address)
	}

	accounts := make([]chain.AccountRef, len(e.Callback.Accounts))
	for i, meta := range e.Callback.Accounts {
		accounts[i] = chain.AccountRef{
			Address:  meta.Address.String(),
			Writable: meta.Writable,
			Signer:   meta.Signer,
		}
	}

	inv := chain.Invocation{
		Program:  e.Callback.Program.String(),
		Method:   e.Callback.Method,
		Data:     append(e.Seed[:], randomness[:]...),
		Accounts: accounts,
	}

	d.log.Debug("dispatching callback",
		"address", e.Address.String(),
		"program", inv.Program,
		"method", inv.Method,
	)

	res, err := d.invoker.InvokeAndWait(ctx, inv, d.waitTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: %v", request.ErrCallbackExecutionFailed, err)
	}
	return res.TxHash, nil
}
