package market

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gallery-live/marketsync/internal/db"
	"github.com/gallery-live/marketsync/internal/eth"
	"github.com/gallery-live/marketsync/internal/metrics"
	"github.com/gallery-live/marketsync/pkg/market/models"
	"go.uber.org/zap"
)

// ReconciliationScheduler closes the loop on optimistic updates: replaying
// survivors after a restart and, after each new mutation, running one
// delayed sync against the indexer. The sync is sync-or-drop, not a retry
// loop: if the indexer has not caught up inside the delay window the next
// full reload is authoritative anyway.
//
// The delay is fixed rather than adaptive to observed indexer latency;
// making it adaptive would change the "trust the indexer after the window"
// contract, so it stays a configuration knob.
type ReconciliationScheduler struct {
	pending     PendingUpdateStore
	snapshot    SnapshotDb
	sqlite      *sql.DB
	client      eth.ChainClient
	extractor   eth.EventExtractor
	indexer     IndexerClient
	marketplace common.Address
	token       common.Address
	owner       string
	delay       time.Duration

	// rootCtx outlives any one caller: a scheduled sync must complete even
	// if the UI element that triggered it is gone.
	rootCtx context.Context
	wg      sync.WaitGroup
}

func NewReconciliationScheduler(
	rootCtx context.Context,
	pending PendingUpdateStore,
	snapshot SnapshotDb,
	sqlite *sql.DB,
	client eth.ChainClient,
	extractor eth.EventExtractor,
	indexer IndexerClient,
	marketplace common.Address,
	token common.Address,
	owner string,
	delay time.Duration,
) *ReconciliationScheduler {
	if delay == 0 {
		delay = 30 * time.Second
	}
	return &ReconciliationScheduler{
		pending:     pending,
		snapshot:    snapshot,
		sqlite:      sqlite,
		client:      client,
		extractor:   extractor,
		indexer:     indexer,
		marketplace: marketplace,
		token:       token,
		owner:       owner,
		delay:       delay,
		rootCtx:     rootCtx,
	}
}

// ReplayOnStart walks every stored pending update. Confirmed transactions
// get their projection re-applied against the freshly loaded snapshot and
// are removed; transactions the node has never heard of are removed
// without reconciliation (the optimistic effect never happened); anything
// still pending or unreachable is left for the next start.
func (r *ReconciliationScheduler) ReplayOnStart(ctx context.Context) error {
	updates, err := r.pending.List()
	if err != nil {
		return err
	}
	for _, update := range updates {
		r.replayOne(ctx, update)
	}
	return nil
}

func (r *ReconciliationScheduler) replayOne(ctx context.Context, update models.PendingUpdate) {
	status, receipt, err := r.pending.ChainStatus(ctx, r.client, update.TxHash)
	if err != nil {
		zap.L().Warn("Could not resolve pending update status, keeping it",
			zap.String("txHash", update.TxHash),
			zap.Error(err),
		)
		return
	}

	switch status {
	case StatusConfirmed:
		set := r.extractor.DecodeReceipt(receipt, r.marketplace, r.token)
		if err := r.ApplyProjection(ctx, set); err != nil {
			zap.L().Error("Failed to re-apply projection on replay",
				zap.String("txHash", update.TxHash),
				zap.Error(err),
			)
			return
		}
		if err := r.pending.Remove(update.TxHash); err != nil {
			zap.L().Error("Failed to remove replayed pending update", zap.Error(err))
			return
		}
		metrics.ReconciliationsTotal.WithLabelValues("replayed").Inc()
		zap.L().Info("Replayed pending update",
			zap.String("type", update.Type.String()),
			zap.String("txHash", update.TxHash),
		)

	case StatusUnknown:
		if err := r.pending.Remove(update.TxHash); err != nil {
			zap.L().Error("Failed to drop unknown pending update", zap.Error(err))
			return
		}
		metrics.ReconciliationsTotal.WithLabelValues("dropped_unknown").Inc()
		zap.L().Info("Dropped pending update for unconfirmed transaction",
			zap.String("txHash", update.TxHash),
		)

	case StatusReverted:
		if err := r.pending.Remove(update.TxHash); err != nil {
			zap.L().Error("Failed to drop reverted pending update", zap.Error(err))
			return
		}
		metrics.ReconciliationsTotal.WithLabelValues("dropped_reverted").Inc()
		zap.L().Info("Dropped pending update for reverted transaction",
			zap.String("txHash", update.TxHash),
		)

	case StatusPending:
		// Still in flight; next start tries again.
	}
}

// ApplyProjection folds one decoded event set into the snapshot inside a
// single transaction. Also the optimistic step right after a confirmed
// mutation, before its sync is scheduled.
func (r *ReconciliationScheduler) ApplyProjection(ctx context.Context, set models.DecodedEventSet) error {
	_, err := db.TxRunner(ctx, r.sqlite, func(txn *sql.Tx) (struct{}, error) {
		listings, err := r.snapshot.GetListings(txn)
		if err != nil {
			return struct{}{}, err
		}
		tokens, err := r.snapshot.GetTokens(txn)
		if err != nil {
			return struct{}{}, err
		}
		nextListings, nextTokens := ApplyEvents(listings, tokens, set)
		if AreListingsDifferent(listings, nextListings) {
			if err := r.snapshot.ReplaceListings(txn, nextListings); err != nil {
				return struct{}{}, err
			}
		}
		if AreTokensDifferent(tokens, nextTokens) {
			if err := r.snapshot.ReplaceTokens(txn, nextTokens); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// ScheduleSync arms the one-shot post-mutation sync for a transaction
// whose optimistic projection has already been applied. The timer is not
// user-cancellable; only root context shutdown stops it.
func (r *ReconciliationScheduler) ScheduleSync(update models.PendingUpdate) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		timer := time.NewTimer(r.delay)
		defer timer.Stop()

		select {
		case <-r.rootCtx.Done():
			return
		case <-timer.C:
		}
		r.syncOnce(r.rootCtx, update)
	}()
}

// Wait blocks until every armed sync has run, for orderly shutdown and
// tests.
func (r *ReconciliationScheduler) Wait() {
	r.wg.Wait()
}

// syncOnce re-reads the affected collection from the indexer, replaces
// the snapshot only when genuinely different, and removes the pending
// record. An unavailable indexer leaves the record in place for the next
// on-start replay rather than retrying inline.
func (r *ReconciliationScheduler) syncOnce(ctx context.Context, update models.PendingUpdate) {
	var err error
	switch update.Type {
	case models.WITHDRAW, models.WITHDRAW_FEES:
		err = r.syncTokens(ctx)
	default:
		collection := update.Data["collection"]
		if collection == "" {
			// Without a collection a listings query would fetch an empty
			// result set and wipe the snapshot. Leave the record for the
			// on-start replay instead.
			metrics.ReconciliationsTotal.WithLabelValues("missing_collection").Inc()
			zap.L().Warn("Pending update carries no collection, skipping sync",
				zap.String("txHash", update.TxHash),
			)
			return
		}
		err = r.syncListings(ctx, collection)
	}
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("indexer_unavailable").Inc()
		zap.L().Warn("Indexer sync failed, keeping pending update",
			zap.String("txHash", update.TxHash),
			zap.Error(err),
		)
		return
	}

	if err := r.pending.Remove(update.TxHash); err != nil {
		zap.L().Error("Failed to remove synced pending update", zap.Error(err))
		return
	}
	metrics.ReconciliationsTotal.WithLabelValues("synced").Inc()
	zap.L().Info("Background sync absorbed pending update",
		zap.String("type", update.Type.String()),
		zap.String("txHash", update.TxHash),
	)
}

func (r *ReconciliationScheduler) syncListings(ctx context.Context, collection string) error {
	fresh, err := r.indexer.ActiveListings(ctx, collection)
	if err != nil {
		return err
	}
	_, err = db.TxRunner(ctx, r.sqlite, func(txn *sql.Tx) (struct{}, error) {
		current, err := r.snapshot.GetListings(txn)
		if err != nil {
			return struct{}{}, err
		}
		if !AreListingsDifferent(current, fresh) {
			return struct{}{}, nil
		}
		return struct{}{}, r.snapshot.ReplaceListings(txn, fresh)
	})
	return err
}

func (r *ReconciliationScheduler) syncTokens(ctx context.Context) error {
	fresh, err := r.indexer.TokensByOwner(ctx, r.owner)
	if err != nil {
		return err
	}
	_, err = db.TxRunner(ctx, r.sqlite, func(txn *sql.Tx) (struct{}, error) {
		current, err := r.snapshot.GetTokens(txn)
		if err != nil {
			return struct{}{}, err
		}
		if !AreTokensDifferent(current, fresh) {
			return struct{}{}, nil
		}
		return struct{}{}, r.snapshot.ReplaceTokens(txn, fresh)
	})
	return err
}
