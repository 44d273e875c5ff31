package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gallery-live/marketsync/internal/config"
	"github.com/gallery-live/marketsync/internal/db"
	"github.com/gallery-live/marketsync/internal/eth"
	"github.com/gallery-live/marketsync/internal/market"
	"github.com/gallery-live/marketsync/pkg/market/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	cfg        config.Config
	sqlite     *sql.DB
	badgerDb   *badger.DB
	client     eth.ChainClient
	signer     *eth.KeyedSigner
	engine     *eth.MutationEngine
	pending    market.PendingUpdateStore
	snapshot   market.SnapshotDb
	indexer    *market.CachedIndexerClient
	reconciler *market.ReconciliationScheduler
}

func newApp(ctx context.Context) (*app, func(), error) {
	cfg := config.Get()

	sqlitePath := cfg.SqlitePath
	if sqlitePath == "" {
		sqlitePath = "./db/sqlite/marketsync"
	}
	badgerPath := cfg.BadgerPath
	if badgerPath == "" {
		badgerPath = "./db/badger/marketsync"
	}

	sqlite, err := db.OpenSqlite(sqlitePath)
	if err != nil {
		return nil, nil, err
	}
	badgerDb, err := db.OpenBadger(badgerPath)
	if err != nil {
		sqlite.Close()
		return nil, nil, err
	}

	client, err := eth.CreateChainClient()
	if err != nil {
		badgerDb.Close()
		sqlite.Close()
		return nil, nil, err
	}

	signer, err := eth.NewKeyedSigner(cfg.WalletPrivateKey)
	if err != nil {
		client.Close()
		badgerDb.Close()
		sqlite.Close()
		return nil, nil, err
	}

	marketplace := common.HexToAddress(cfg.MarketplaceAddress)
	token := common.HexToAddress(cfg.TokenContractAddress)

	reader := eth.NewDefaultChainReader(client, marketplace, token)
	estimator := eth.NewDefaultGasEstimator(client, cfg.LegacyGasChainIDSet()[cfg.ChainID])
	resolver := eth.NewDefaultConfirmationResolver(
		client,
		cfg.ConfirmationCount,
		time.Duration(cfg.ConfirmationTimeoutMs)*time.Millisecond,
	)
	extractor := eth.NewDefaultEventExtractor()
	engine := eth.NewMutationEngine(
		client, signer, reader, estimator, resolver, extractor,
		marketplace, token, cfg.ChainID,
	)

	pending := market.NewPendingUpdateStore(badgerDb)
	snapshot := market.NewSnapshotDb()
	indexer := market.NewCachedIndexerClient(newSubgraphClient(cfg.SubgraphUrl), 10*time.Second)

	syncDelay := time.Duration(cfg.SyncDelayMs) * time.Millisecond
	reconciler := market.NewReconciliationScheduler(
		ctx, pending, snapshot, sqlite, client, extractor, indexer,
		marketplace, token, strings.ToLower(signer.Address().Hex()), syncDelay,
	)

	a := &app{
		cfg:        cfg,
		sqlite:     sqlite,
		badgerDb:   badgerDb,
		client:     client,
		signer:     signer,
		engine:     engine,
		pending:    pending,
		snapshot:   snapshot,
		indexer:    indexer,
		reconciler: reconciler,
	}
	cleanup := func() {
		a.client.Close()
		if err := a.badgerDb.Close(); err != nil {
			zap.L().Warn("Error closing BadgerDB", zap.Error(err))
		}
		if err := a.sqlite.Close(); err != nil {
			zap.L().Warn("Error closing SQLite", zap.Error(err))
		}
	}
	return a, cleanup, nil
}

// finishMutation runs the shared post-success path: optimistic projection
// first (synchronously), then the durable pending record, then the delayed
// sync. Order matters: the local view must be updated before the sync can
// possibly race it.
func (a *app) finishMutation(
	ctx context.Context,
	updateType models.UpdateType,
	result *eth.MutationResult,
	data map[string]string,
	waitSync bool,
) error {
	if result.NoOp {
		zap.L().Info("Operation was a local no-op, nothing to reconcile")
		return nil
	}

	if !result.Events.Empty() {
		if err := a.reconciler.ApplyProjection(ctx, result.Events); err != nil {
			return fmt.Errorf("optimistic projection failed: %w", err)
		}
	}
	a.indexer.ClearCaches()

	update := models.PendingUpdate{
		Type:      updateType,
		TxHash:    result.TxHash,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := a.pending.Add(update); err != nil {
		return fmt.Errorf("failed to persist pending update: %w", err)
	}
	a.reconciler.ScheduleSync(update)

	fmt.Printf("ok tx=%s\n", result.TxHash)
	if waitSync {
		a.reconciler.Wait()
	}
	return nil
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, cleanup, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cmd.Context(), a, cmd)
	}
}

func newBuyCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy an active listing",
		RunE: withApp(ctx, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			listingID, _ := cmd.Flags().GetUint64("listing-id")
			collection, _ := cmd.Flags().GetString("collection")
			waitSync, _ := cmd.Flags().GetBool("wait-sync")

			result, err := a.engine.Buy(ctx, listingID)
			if err != nil {
				return err
			}
			return a.finishMutation(ctx, models.PURCHASE, result, map[string]string{
				"listingId":  fmt.Sprintf("%d", listingID),
				"collection": strings.ToLower(collection),
			}, waitSync)
		}),
	}
	cmd.Flags().Uint64("listing-id", 0, "listing id to buy")
	cmd.Flags().String("collection", "", "collection address (for the background sync)")
	cmd.Flags().Bool("wait-sync", false, "block until the background sync has run")
	_ = cmd.MarkFlagRequired("listing-id")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func newListCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a token for sale",
		RunE: withApp(ctx, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			collection, _ := cmd.Flags().GetString("collection")
			tokenID, err := flagBigInt(cmd, "token-id")
			if err != nil {
				return err
			}
			price, err := flagBigInt(cmd, "price")
			if err != nil {
				return err
			}
			withApproval, _ := cmd.Flags().GetBool("with-approval")
			waitSync, _ := cmd.Flags().GetBool("wait-sync")

			collectionAddr := common.HexToAddress(collection)
			var result *eth.MutationResult
			if withApproval {
				result, err = a.engine.ListWithApproval(ctx, collectionAddr, tokenID, price)
			} else {
				result, err = a.engine.List(ctx, collectionAddr, tokenID, price)
			}
			if err != nil {
				return err
			}
			return a.finishMutation(ctx, models.LIST, result, map[string]string{
				"collection": strings.ToLower(collection),
				"tokenId":    tokenID.String(),
				"price":      price.String(),
			}, waitSync)
		}),
	}
	cmd.Flags().String("collection", "", "collection address")
	cmd.Flags().String("token-id", "", "token id")
	cmd.Flags().String("price", "", "price in wei")
	cmd.Flags().Bool("with-approval", false, "approve the marketplace first if needed")
	cmd.Flags().Bool("wait-sync", false, "block until the background sync has run")
	_ = cmd.MarkFlagRequired("collection")
	_ = cmd.MarkFlagRequired("token-id")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newUpdatePriceCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-price",
		Short: "Change the price of your listing",
		RunE: withApp(ctx, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			listingID, _ := cmd.Flags().GetUint64("listing-id")
			collection, _ := cmd.Flags().GetString("collection")
			newPrice, err := flagBigInt(cmd, "price")
			if err != nil {
				return err
			}
			waitSync, _ := cmd.Flags().GetBool("wait-sync")

			result, err := a.engine.UpdatePrice(ctx, listingID, newPrice)
			if err != nil {
				return err
			}
			return a.finishMutation(ctx, models.UPDATE, result, map[string]string{
				"listingId":  fmt.Sprintf("%d", listingID),
				"newPrice":   newPrice.String(),
				"collection": strings.ToLower(collection),
			}, waitSync)
		}),
	}
	cmd.Flags().Uint64("listing-id", 0, "listing id")
	cmd.Flags().String("price", "", "new price in wei")
	cmd.Flags().String("collection", "", "collection address (for the background sync)")
	cmd.Flags().Bool("wait-sync", false, "block until the background sync has run")
	_ = cmd.MarkFlagRequired("listing-id")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func newCancelCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel your listing",
		RunE: withApp(ctx, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			listingID, _ := cmd.Flags().GetUint64("listing-id")
			collection, _ := cmd.Flags().GetString("collection")
			waitSync, _ := cmd.Flags().GetBool("wait-sync")

			result, err := a.engine.Cancel(ctx, listingID)
			if err != nil {
				return err
			}
			return a.finishMutation(ctx, models.CANCEL, result, map[string]string{
				"listingId":  fmt.Sprintf("%d", listingID),
				"collection": strings.ToLower(collection),
			}, waitSync)
		}),
	}
	cmd.Flags().Uint64("listing-id", 0, "listing id")
	cmd.Flags().String("collection", "", "collection address (for the background sync)")
	cmd.Flags().Bool("wait-sync", false, "block until the background sync has run")
	_ = cmd.MarkFlagRequired("listing-id")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func newWithdrawCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw your share from a royalty splitter",
		RunE: withApp(ctx, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			splitter, _ := cmd.Flags().GetString("splitter")
			waitSync, _ := cmd.Flags().GetBool("wait-sync")

			result, err := a.engine.Withdraw(ctx, common.HexToAddress(splitter))
			if err != nil {
				return err
			}
			return a.finishMutation(ctx, models.WITHDRAW, result, map[string]string{
				"splitterAddress": strings.ToLower(splitter),
			}, waitSync)
		}),
	}
	cmd.Flags().String("splitter", "", "splitter contract address")
	cmd.Flags().Bool("wait-sync", false, "block until the background sync has run")
	_ = cmd.MarkFlagRequired("splitter")
	return cmd
}

func newApproveCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the marketplace for one token",
		RunE: withApp(ctx, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			tokenID, err := flagBigInt(cmd, "token-id")
			if err != nil {
				return err
			}
			result, err := a.engine.Approve(ctx, tokenID)
			if err != nil {
				return err
			}
			// Approvals don't project onto the collections and need no
			// background sync; nothing to store.
			fmt.Printf("ok tx=%s\n", result.TxHash)
			return nil
		}),
	}
	cmd.Flags().String("token-id", "", "token id")
	_ = cmd.MarkFlagRequired("token-id")
	return cmd
}

func newPendingCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show stored pending updates",
		RunE: withApp(ctx, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			updates, err := a.pending.List()
			if err != nil {
				return err
			}
			if len(updates) == 0 {
				fmt.Println("no pending updates")
				return nil
			}
			for _, u := range updates {
				age := time.Since(time.UnixMilli(u.Timestamp)).Round(time.Second)
				fmt.Printf("%-12s %s age=%s data=%v\n", u.Type, u.TxHash, age, u.Data)
			}
			return nil
		}),
	}
}

func newReplayCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay stored pending updates against chain state",
		RunE: withApp(ctx, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			return a.reconciler.ReplayOnStart(ctx)
		}),
	}
}

func flagBigInt(cmd *cobra.Command, name string) (*big.Int, error) {
	raw, _ := cmd.Flags().GetString(name)
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.New("invalid decimal value for --" + name)
	}
	return v, nil
}
