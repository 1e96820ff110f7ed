package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultTxWaitTimeout is the default timeout for waiting for instruction
// execution.
const DefaultTxWaitTimeout = 2 * time.Minute

// DefaultPollInterval is the default interval for polling execution status.
const DefaultPollInterval = 2 * time.Second

// AccountRef names one account passed to an invoked instruction, with its
// access mode.
type AccountRef struct {
	Address  string `json:"address"`
	Writable bool   `json:"writable"`
	Signer   bool   `json:"signer"`
}

// Invocation describes one instruction invocation on a target program.
type Invocation struct {
	Program  string       `json:"program"`
	Method   string       `json:"method"`
	Data     []byte       `json:"data"`
	Accounts []AccountRef `json:"accounts"`
}

// ExecutionResult is the outcome of an executed instruction.
type ExecutionResult struct {
	TxHash    string
	State     string
	Exception string
}

// Succeeded reports whether the instruction halted normally.
func (r ExecutionResult) Succeeded() bool { return r.State == "HALT" }

// SubmitInvocation submits an instruction invocation and returns its
// transaction hash without waiting for execution.
func (c *Client) SubmitInvocation(ctx context.Context, inv Invocation) (string, error) {
	result, err := c.Call(ctx, "submitinvocation", []interface{}{inv})
	if err != nil {
		return "", err
	}

	hash := gjson.GetBytes(result, "hash")
	if !hash.Exists() {
		return "", fmt.Errorf("submitinvocation: missing hash in response")
	}
	return hash.String(), nil
}

// GetExecutionResult fetches the execution outcome for a transaction. A
// missing transaction returns errNotExecuted and is retried by callers.
func (c *Client) GetExecutionResult(ctx context.Context, txHash string) (ExecutionResult, error) {
	result, err := c.Call(ctx, "getexecutionresult", []interface{}{txHash})
	if err != nil {
		return ExecutionResult{}, err
	}

	state := gjson.GetBytes(result, "state")
	if !state.Exists() {
		return ExecutionResult{}, errNotExecuted
	}
	return ExecutionResult{
		TxHash:    txHash,
		State:     state.String(),
		Exception: gjson.GetBytes(result, "exception").String(),
	}, nil
}

var errNotExecuted = fmt.Errorf("transaction not yet executed")

// WaitForExecution polls for a transaction's execution result until it is
// available or ctx is done. A missing result is transient and retried.
func (c *Client) WaitForExecution(ctx context.Context, txHash string, pollInterval time.Duration) (ExecutionResult, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ExecutionResult{}, ctx.Err()
		case <-ticker.C:
			res, err := c.GetExecutionResult(ctx, txHash)
			if err != nil {
				if err == errNotExecuted {
					continue
				}
				return ExecutionResult{}, err
			}
			return res, nil
		}
	}
}

// InvokeAndWait submits an invocation and waits for its execution result.
// A FAULT state is returned as an error carrying the callee's exception.
func (c *Client) InvokeAndWait(ctx context.Context, inv Invocation, waitTimeout time.Duration) (ExecutionResult, error) {
	if waitTimeout <= 0 {
		waitTimeout = DefaultTxWaitTimeout
	}

	txHash, err := c.SubmitInvocation(ctx, inv)
	if err != nil {
		return ExecutionResult{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	res, err := c.WaitForExecution(waitCtx, txHash, DefaultPollInterval)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("wait for execution of %s: %w", txHash, err)
	}
	if !res.Succeeded() {
		return res, fmt.Errorf("instruction %s.%s faulted: %s", inv.Program, inv.Method, res.Exception)
	}
	return res, nil
}
