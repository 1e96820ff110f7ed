// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/internal/chain"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
)

// Identity returns a deterministic identity filled with the given byte.
func Identity(fill byte) protocol.Identity {
	var id protocol.Identity
	for i := range id {
		id[i] = fill
	}
	return id
}

// Descriptor returns a callback descriptor targeting a program filled with
// the given byte.
func Descriptor(fill byte, method string) *request.CallbackDescriptor {
	return &request.CallbackDescriptor{
		Program: Identity(fill),
		Method:  method,
		Accounts: []request.AccountMeta{
			{Address: Identity(fill + 1), Writable: true},
		},
	}
}

// MockInvoker is a test implementation of the callback Invoker interface.
// It records every invocation and can be primed to fail.
type MockInvoker struct {
	mu          sync.Mutex
	invocations []chain.Invocation
	Err         error
	TxHash      string
}

// NewMockInvoker creates an invoker that reports txHash for every call.
func NewMockInvoker(txHash string) *MockInvoker {
	return &MockInvoker{TxHash: txHash}
}

// InvokeAndWait records the invocation and returns the primed result.
func (m *MockInvoker) InvokeAndWait(_ context.Context, inv chain.Invocation, _ time.Duration) (chain.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return chain.ExecutionResult{}, m.Err
	}
	m.invocations = append(m.invocations, inv)
	return chain.ExecutionResult{TxHash: m.TxHash, State: "HALT"}, nil
}

// Invocations returns a copy of every recorded invocation.
func (m *MockInvoker) Invocations() []chain.Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chain.Invocation, len(m.invocations))
	copy(out, m.invocations)
	return out
}
