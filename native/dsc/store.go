package dsc

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"dscengine/crypto"
	"dscengine/storage"
)

// MemStore keeps the ledger in process memory.
type MemStore struct {
	mu         sync.RWMutex
	collateral map[positionKey]*uint256.Int
	debt       map[crypto.Address]*uint256.Int
	accounts   []crypto.Address
	known      map[crypto.Address]struct{}
}

// NewMemStore returns an empty in-memory ledger.
func NewMemStore() *MemStore {
	return &MemStore{
		collateral: make(map[positionKey]*uint256.Int),
		debt:       make(map[crypto.Address]*uint256.Int),
		known:      make(map[crypto.Address]struct{}),
	}
}

func (m *MemStore) Collateral(account, asset crypto.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return zeroIfNil(m.collateral[newPositionKey(account, asset)]).Clone(), nil
}

func (m *MemStore) Debt(account crypto.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return zeroIfNil(m.debt[canonicalAccount(account)]).Clone(), nil
}

// Accounts lists every account that ever held a position, in first-seen order.
func (m *MemStore) Accounts() ([]crypto.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]crypto.Address(nil), m.accounts...), nil
}

func (m *MemStore) Apply(changes *ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range changes.collateral {
		m.collateral[newPositionKey(w.Account, w.Asset)] = w.Amount.Clone()
	}
	for _, w := range changes.debt {
		m.debt[canonicalAccount(w.Account)] = w.Amount.Clone()
	}
	for _, addr := range changes.Accounts() {
		addr = canonicalAccount(addr)
		if _, ok := m.known[addr]; ok {
			continue
		}
		m.known[addr] = struct{}{}
		m.accounts = append(m.accounts, addr)
	}
	return nil
}

var (
	collateralPrefix = []byte("dsc/collateral/")
	debtPrefix       = []byte("dsc/debt/")
	accountPrefix    = []byte("dsc/account/")
)

type storedAccount struct {
	Prefix  string
	Address []byte
}

// KVStore persists the ledger in a key-value database with RLP encoded values.
// Each Apply is written as a single batch.
type KVStore struct {
	db storage.Database
}

// NewKVStore wraps db.
func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

func collateralKey(account, asset crypto.Address) []byte {
	key := make([]byte, 0, len(collateralPrefix)+2*crypto.AddressLength)
	key = append(key, collateralPrefix...)
	key = append(key, account.Bytes()...)
	return append(key, asset.Bytes()...)
}

func debtKey(account crypto.Address) []byte {
	return append(append([]byte(nil), debtPrefix...), account.Bytes()...)
}

func accountKey(account crypto.Address) []byte {
	return append(append([]byte(nil), accountPrefix...), account.Bytes()...)
}

func (s *KVStore) readAmount(key []byte) (*uint256.Int, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, fmt.Errorf("dsc store: decode %x: %w", key, err)
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("dsc store: value at %x exceeds 256 bits", key)
	}
	return out, nil
}

func (s *KVStore) Collateral(account, asset crypto.Address) (*uint256.Int, error) {
	return s.readAmount(collateralKey(account, asset))
}

func (s *KVStore) Debt(account crypto.Address) (*uint256.Int, error) {
	return s.readAmount(debtKey(account))
}

func (s *KVStore) Accounts() ([]crypto.Address, error) {
	var out []crypto.Address
	err := s.db.ForEach(accountPrefix, func(_, value []byte) error {
		var rec storedAccount
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			return fmt.Errorf("dsc store: decode account: %w", err)
		}
		addr, err := crypto.NewAddress(crypto.AccountPrefix, rec.Address)
		if err != nil {
			return err
		}
		out = append(out, addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *KVStore) Apply(changes *ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	batch := new(storage.Batch)
	for _, w := range changes.collateral {
		enc, err := rlp.EncodeToBytes(w.Amount.ToBig())
		if err != nil {
			return err
		}
		batch.Put(collateralKey(w.Account, w.Asset), enc)
	}
	for _, w := range changes.debt {
		enc, err := rlp.EncodeToBytes(w.Amount.ToBig())
		if err != nil {
			return err
		}
		batch.Put(debtKey(w.Account), enc)
	}
	for _, addr := range changes.Accounts() {
		enc, err := rlp.EncodeToBytes(storedAccount{Prefix: string(crypto.AccountPrefix), Address: addr.Bytes()})
		if err != nil {
			return err
		}
		batch.Put(accountKey(addr), enc)
	}
	return s.db.Write(batch)
}
