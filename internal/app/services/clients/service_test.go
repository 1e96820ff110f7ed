package clients

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/client"
	"github.com/R3E-Network/randomness_layer/internal/app/storage/memory"
	"github.com/R3E-Network/randomness_layer/internal/events"
	"github.com/R3E-Network/randomness_layer/pkg/testutil"
)

func newService() *Service {
	return New(memory.New(), events.NewBus(), nil)
}

func TestRegisterAndGet(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	created, err := svc.Register(ctx, testutil.Identity(0x01), testutil.Identity(0x02), testutil.Identity(0x03), nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("no client ID assigned")
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Program != created.Program || got.Owner != created.Owner {
		t.Fatalf("unexpected client: %+v", got)
	}

	byProgram, err := svc.GetByProgram(ctx, testutil.Identity(0x01))
	if err != nil {
		t.Fatalf("get by program: %v", err)
	}
	if byProgram.ID != created.ID {
		t.Fatalf("wrong client by program")
	}
}

func TestRegisterDuplicateProgram(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, testutil.Identity(0x01), testutil.Identity(0x02), testutil.Identity(0x03), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, testutil.Identity(0x01), testutil.Identity(0x04), testutil.Identity(0x05), nil); !errors.Is(err, client.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestTransferOwnerOnly(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	owner := testutil.Identity(0x03)
	newOwner := testutil.Identity(0x04)

	created, err := svc.Register(ctx, testutil.Identity(0x01), testutil.Identity(0x02), owner, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Transfer(ctx, created.ID, testutil.Identity(0x09), newOwner); !errors.Is(err, client.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	updated, err := svc.Transfer(ctx, created.ID, owner, newOwner)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if updated.Owner != newOwner {
		t.Fatalf("ownership not transferred")
	}

	// The previous owner lost control.
	if _, err := svc.Transfer(ctx, created.ID, owner, testutil.Identity(0x05)); !errors.Is(err, client.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for previous owner, got %v", err)
	}
}

func TestWithdrawBoundedByBalance(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	owner := testutil.Identity(0x03)

	created, err := svc.Register(ctx, testutil.Identity(0x01), testutil.Identity(0x02), owner, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Fund(ctx, created.ID, 100); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if _, err := svc.Withdraw(ctx, created.ID, owner, 150); !errors.Is(err, client.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := svc.Withdraw(ctx, created.ID, testutil.Identity(0x09), 10); !errors.Is(err, client.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	updated, err := svc.Withdraw(ctx, created.ID, owner, 60)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if updated.Balance != 40 {
		t.Fatalf("balance %d, want 40", updated.Balance)
	}
}

func TestSetAndClearCallback(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	owner := testutil.Identity(0x03)

	created, err := svc.Register(ctx, testutil.Identity(0x01), testutil.Identity(0x02), owner, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cb := testutil.Descriptor(0x10, "consume")
	if _, err := svc.SetCallback(ctx, created.ID, testutil.Identity(0x09), cb); !errors.Is(err, client.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	updated, err := svc.SetCallback(ctx, created.ID, owner, cb)
	if err != nil {
		t.Fatalf("set callback: %v", err)
	}
	if updated.Callback == nil || updated.Callback.Method != "consume" {
		t.Fatalf("callback not installed")
	}

	cleared, err := svc.ClearCallback(ctx, created.ID, owner)
	if err != nil {
		t.Fatalf("clear callback: %v", err)
	}
	if cleared.Callback != nil {
		t.Fatalf("callback not cleared")
	}
}
