package market

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gallery-live/marketsync/internal/eth"
	"github.com/gallery-live/marketsync/pkg/market/models"
)

// ChainStatus is the answer to "did this pending transaction take
// effect": confirmed with a successful receipt, definitively unknown to
// the node, mined but reverted, or still pending.
type ChainStatus int

const (
	StatusConfirmed ChainStatus = iota
	StatusUnknown
	StatusPending
	StatusReverted
)

// PendingUpdateStore is the durable record of in-flight optimistic
// mutations. It survives a process restart; expiry is the reconciliation
// scheduler's job, never the store's.
type PendingUpdateStore interface {
	Add(update models.PendingUpdate) error
	List() ([]models.PendingUpdate, error)
	ListByType(t models.UpdateType) ([]models.PendingUpdate, error)
	Remove(txHash string) error
	ChainStatus(ctx context.Context, client eth.ChainClient, txHash string) (ChainStatus, *types.Receipt, error)
}

func NewPendingUpdateStore(db *badger.DB) PendingUpdateStore {
	return &PendingUpdateStoreImpl{db: db}
}

type PendingUpdateStoreImpl struct {
	mu sync.RWMutex
	db *badger.DB
}

const pendingPrefix = "market:pending:"

func pendingKey(txHash string) []byte {
	return []byte(pendingPrefix + strings.ToLower(txHash))
}

// Add is idempotent on transaction hash: writing the same hash twice keeps
// a single entry (last write wins on the value).
func (s *PendingUpdateStoreImpl) Add(update models.PendingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	models.NormalizePending(&update)
	if update.Timestamp == 0 {
		update.Timestamp = time.Now().UnixMilli()
	}
	val, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(update.TxHash), val)
	})
}

func (s *PendingUpdateStoreImpl) List() ([]models.PendingUpdate, error) {
	return s.list(func(models.PendingUpdate) bool { return true })
}

func (s *PendingUpdateStoreImpl) ListByType(t models.UpdateType) ([]models.PendingUpdate, error) {
	return s.list(func(u models.PendingUpdate) bool { return u.Type == t })
}

func (s *PendingUpdateStoreImpl) list(keep func(models.PendingUpdate) bool) ([]models.PendingUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var updates []models.PendingUpdate
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pendingPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(pendingPrefix)); it.ValidForPrefix([]byte(pendingPrefix)); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var update models.PendingUpdate
			if err := json.Unmarshal(val, &update); err != nil {
				return err
			}
			if keep(update) {
				updates = append(updates, update)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updates, nil
}

func (s *PendingUpdateStoreImpl) Remove(txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(pendingKey(txHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// ChainStatus resolves whether the stored transaction took effect. A
// successful receipt means confirmed; a failed receipt means the
// transaction is settled but its optimistic effect never happened; a node
// that knows neither receipt nor transaction means the same.
func (s *PendingUpdateStoreImpl) ChainStatus(
	ctx context.Context,
	client eth.ChainClient,
	txHash string,
) (ChainStatus, *types.Receipt, error) {
	hash := common.HexToHash(txHash)

	receipt, err := client.TransactionReceipt(ctx, hash)
	if err == nil && receipt != nil {
		if receipt.Status != types.ReceiptStatusSuccessful {
			return StatusReverted, nil, nil
		}
		return StatusConfirmed, receipt, nil
	}
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		return StatusPending, nil, err
	}

	_, isPending, err := client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return StatusUnknown, nil, nil
	}
	if err != nil {
		return StatusPending, nil, err
	}
	if isPending {
		return StatusPending, nil, nil
	}

	// Mined but the receipt lookup raced the block import.
	receipt, err = client.TransactionReceipt(ctx, hash)
	if err == nil && receipt != nil {
		if receipt.Status != types.ReceiptStatusSuccessful {
			return StatusReverted, nil, nil
		}
		return StatusConfirmed, receipt, nil
	}
	return StatusPending, nil, err
}
