package token

import (
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"LendLedger/internal/fpmath"
)

type allowanceKey struct {
	owner   uuid.UUID
	spender uuid.UUID
}

// MemoryLedger is an in-process AssetLedger with ERC-20 transfer and
// allowance semantics and owner-gated minting. It is safe for
// concurrent use; the engine also calls it from query paths outside
// its own lock.
type MemoryLedger struct {
	mu         sync.RWMutex
	symbol     string
	owner      uuid.UUID
	balances   map[uuid.UUID]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

func NewMemoryLedger(symbol string, owner uuid.UUID) *MemoryLedger {
	return &MemoryLedger{
		symbol:     symbol,
		owner:      owner,
		balances:   make(map[uuid.UUID]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

func (l *MemoryLedger) Symbol() string { return l.symbol }

func (l *MemoryLedger) Owner() uuid.UUID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

// TransferOwnership hands the mint right to next. Only the current
// owner may call it.
func (l *MemoryLedger) TransferOwnership(caller, next uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return ErrNotOwner
	}
	l.owner = next
	return nil
}

func (l *MemoryLedger) BalanceOf(holder uuid.UUID) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[holder]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

func (l *MemoryLedger) Allowance(owner, spender uuid.UUID) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[allowanceKey{owner, spender}]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

func (l *MemoryLedger) Approve(owner, spender uuid.UUID, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner, spender}] = new(uint256.Int).Set(amount)
}

func (l *MemoryLedger) Transfer(from, to uuid.UUID, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves owner's tokens on spender's authority, consuming
// allowance.
func (l *MemoryLedger) TransferFrom(spender, owner, to uuid.UUID, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{owner, spender}
	allowed, ok := l.allowances[key]
	if !ok || allowed.Lt(amount) {
		return ErrInsufficientBalanceOrAllowance
	}
	if err := l.move(owner, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (l *MemoryLedger) Mint(caller, to uuid.UUID, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return ErrNotOwner
	}
	bal, ok := l.balances[to]
	if !ok {
		bal = new(uint256.Int)
		l.balances[to] = bal
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fpmath.ErrOverflow
	}
	bal.Set(sum)
	return nil
}

// move assumes the lock is held.
func (l *MemoryLedger) move(from, to uuid.UUID, amount *uint256.Int) error {
	src, ok := l.balances[from]
	if !ok || src.Lt(amount) {
		return ErrInsufficientBalanceOrAllowance
	}
	dst, ok := l.balances[to]
	if !ok {
		dst = new(uint256.Int)
		l.balances[to] = dst
	}
	sum, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return fpmath.ErrOverflow
	}
	src.Sub(src, amount)
	dst.Set(sum)
	return nil
}
