package token

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"LendLedger/internal/fpmath"
)

func TestMintOwnerGate(t *testing.T) {
	owner := uuid.New()
	stranger := uuid.New()
	holder := uuid.New()
	l := NewMemoryLedger("DEBT", owner)

	if err := l.Mint(stranger, holder, uint256.NewInt(10)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
	if err := l.Mint(owner, holder, uint256.NewInt(10)); err != nil {
		t.Fatalf("owner mint failed: %v", err)
	}
	if got := l.BalanceOf(holder); got.Uint64() != 10 {
		t.Fatalf("balance %s, want 10", got)
	}
}

func TestMintOverflowRejected(t *testing.T) {
	owner := uuid.New()
	holder := uuid.New()
	l := NewMemoryLedger("DEBT", owner)

	max := new(uint256.Int).Not(uint256.NewInt(0))
	if err := l.Mint(owner, holder, max); err != nil {
		t.Fatalf("mint max: %v", err)
	}

	err := l.Mint(owner, holder, uint256.NewInt(1))
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Fatalf("got %v, want ErrOverflow", err)
	}
	if got := l.BalanceOf(holder); !got.Eq(max) {
		t.Fatalf("failed mint mutated balance: %s", got)
	}
}

func TestTransferOverflowRejected(t *testing.T) {
	owner := uuid.New()
	a, b := uuid.New(), uuid.New()
	l := NewMemoryLedger("COLL", owner)

	max := new(uint256.Int).Not(uint256.NewInt(0))
	if err := l.Mint(owner, a, max); err != nil {
		t.Fatal(err)
	}
	if err := l.Mint(owner, b, max); err != nil {
		t.Fatal(err)
	}

	err := l.Transfer(a, b, uint256.NewInt(1))
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Fatalf("got %v, want ErrOverflow", err)
	}
	if !l.BalanceOf(a).Eq(max) || !l.BalanceOf(b).Eq(max) {
		t.Fatal("failed transfer mutated balances")
	}
}

func TestTransferOwnership(t *testing.T) {
	deployer := uuid.New()
	engine := uuid.New()
	l := NewMemoryLedger("DEBT", deployer)

	if err := l.TransferOwnership(engine, engine); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner transferred ownership: %v", err)
	}
	if err := l.TransferOwnership(deployer, engine); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}
	if err := l.Mint(deployer, deployer, uint256.NewInt(1)); !errors.Is(err, ErrNotOwner) {
		t.Fatal("old owner can still mint")
	}
	if err := l.Mint(engine, engine, uint256.NewInt(1)); err != nil {
		t.Fatalf("new owner cannot mint: %v", err)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	owner := uuid.New()
	a, b := uuid.New(), uuid.New()
	l := NewMemoryLedger("COLL", owner)
	if err := l.Mint(owner, a, uint256.NewInt(5)); err != nil {
		t.Fatal(err)
	}

	err := l.Transfer(a, b, uint256.NewInt(6))
	if !errors.Is(err, ErrInsufficientBalanceOrAllowance) {
		t.Fatalf("got %v, want ErrInsufficientBalanceOrAllowance", err)
	}
	if l.BalanceOf(a).Uint64() != 5 || !l.BalanceOf(b).IsZero() {
		t.Fatal("failed transfer mutated balances")
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	owner := uuid.New()
	holder, spender, dest := uuid.New(), uuid.New(), uuid.New()
	l := NewMemoryLedger("COLL", owner)
	if err := l.Mint(owner, holder, uint256.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	// No allowance yet.
	err := l.TransferFrom(spender, holder, dest, uint256.NewInt(30))
	if !errors.Is(err, ErrInsufficientBalanceOrAllowance) {
		t.Fatalf("got %v, want ErrInsufficientBalanceOrAllowance", err)
	}

	l.Approve(holder, spender, uint256.NewInt(50))
	if err := l.TransferFrom(spender, holder, dest, uint256.NewInt(30)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got := l.Allowance(holder, spender); got.Uint64() != 20 {
		t.Fatalf("allowance %s, want 20", got)
	}
	if l.BalanceOf(dest).Uint64() != 30 || l.BalanceOf(holder).Uint64() != 70 {
		t.Fatal("balances wrong after TransferFrom")
	}

	// Remaining allowance is smaller than the next pull.
	err = l.TransferFrom(spender, holder, dest, uint256.NewInt(21))
	if !errors.Is(err, ErrInsufficientBalanceOrAllowance) {
		t.Fatalf("got %v, want ErrInsufficientBalanceOrAllowance", err)
	}
}

func TestTransferFromInsufficientBalanceKeepsAllowance(t *testing.T) {
	owner := uuid.New()
	holder, spender, dest := uuid.New(), uuid.New(), uuid.New()
	l := NewMemoryLedger("COLL", owner)
	if err := l.Mint(owner, holder, uint256.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	l.Approve(holder, spender, uint256.NewInt(100))

	err := l.TransferFrom(spender, holder, dest, uint256.NewInt(11))
	if !errors.Is(err, ErrInsufficientBalanceOrAllowance) {
		t.Fatalf("got %v", err)
	}
	if got := l.Allowance(holder, spender); got.Uint64() != 100 {
		t.Fatalf("failed pull consumed allowance: %s", got)
	}
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	owner := uuid.New()
	holder := uuid.New()
	l := NewMemoryLedger("COLL", owner)
	if err := l.Mint(owner, holder, uint256.NewInt(42)); err != nil {
		t.Fatal(err)
	}

	l.BalanceOf(holder).SetUint64(0)
	if got := l.BalanceOf(holder); got.Uint64() != 42 {
		t.Fatalf("caller mutated internal balance: %s", got)
	}
}
