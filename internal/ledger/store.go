package ledger

import (
	"sort"

	"github.com/google/uuid"
)

// Store holds all accounts in memory. Accounts are created lazily on
// first access with zero balances. The store itself is not locked; the
// engine serializes access.
type Store struct {
	accounts map[uuid.UUID]*Account
}

func NewStore() *Store {
	return &Store{accounts: make(map[uuid.UUID]*Account)}
}

// Get returns the account for id, creating a zeroed one if absent.
func (s *Store) Get(id uuid.UUID) *Account {
	acc, ok := s.accounts[id]
	if !ok {
		acc = NewAccount(id)
		s.accounts[id] = acc
	}
	return acc
}

// Lookup returns the account without creating it.
func (s *Store) Lookup(id uuid.UUID) (*Account, bool) {
	acc, ok := s.accounts[id]
	return acc, ok
}

// Restore installs an account loaded from the projection table,
// replacing any in-memory state for the same id.
func (s *Store) Restore(acc *Account) {
	s.accounts[acc.ID] = acc.Clone()
}

func (s *Store) Len() int {
	return len(s.accounts)
}

// Snapshot returns deep copies of every account, ordered by id so the
// output is stable for persistence and tests.
func (s *Store) Snapshot() []*Account {
	out := make([]*Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
