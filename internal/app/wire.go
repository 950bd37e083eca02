package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/dexbotio/dexbot/internal/blob/s3"
	"github.com/dexbotio/dexbot/internal/cache/redis"
	"github.com/dexbotio/dexbot/internal/config"
	"github.com/dexbotio/dexbot/internal/crypto"
	"github.com/dexbotio/dexbot/internal/domain"
	"github.com/dexbotio/dexbot/internal/engine"
	"github.com/dexbotio/dexbot/internal/feed"
	"github.com/dexbotio/dexbot/internal/notify"
	"github.com/dexbotio/dexbot/internal/platform/router"
	"github.com/dexbotio/dexbot/internal/store"
	"github.com/dexbotio/dexbot/internal/store/postgres"
)

// gweiToWei converts a gwei amount to wei.
func gweiToWei(gwei int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
}

// Dependencies bundles everything the application modes need to operate.
// Constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Book       *store.PositionBook
	AuditStore domain.AuditStore

	PriceCache domain.PriceCache
	PriceFeed  domain.PriceFeed
	Stream     *feed.PriceStream // nil when no WS URL is configured

	Controller *engine.Controller
	Monitor    *engine.PriceMonitor

	Archiver *s3blob.Archiver // nil unless archiving is enabled
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// PostgreSQL: snapshot durability and the audit log.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	snapshots := postgres.NewSnapshotStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// Position book, restored from the last snapshot.
	deps.Book = store.NewPositionBook(snapshots, logger)
	closers = append(closers, deps.Book.Flush)
	if err := deps.Book.Restore(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore positions: %w", err)
	}

	// Redis price cache.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)

	// Price feeds: live HTTP feed fronted by the cache, plus an optional
	// streaming writer keeping the cache warm.
	httpFeed := feed.NewHTTPPriceFeed(cfg.Feed.HTTPURL, cfg.Feed.Timeout.Duration)
	deps.PriceFeed = feed.NewCachedPriceFeed(deps.PriceCache, httpFeed, cfg.Monitor.PriceMaxAge.Duration, logger)
	if cfg.Feed.WSURL != "" {
		tokens, err := watchTokens(ctx, cfg, deps.Book)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: collect watch tokens: %w", err)
		}
		deps.Stream = feed.NewPriceStream(cfg.Feed.WSURL, tokens, deps.PriceCache, logger)
	}

	// Wallet and chain clients.
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, big.NewInt(cfg.Chain.ChainID))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}

	ethClient, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: dial rpc: %w", err)
	}
	closers = append(closers, ethClient.Close)

	routerClient, err := router.New(ethClient, signer, router.ClientConfig{
		RouterAddress: common.HexToAddress(cfg.Chain.RouterAddress),
		ChainID:       big.NewInt(cfg.Chain.ChainID),
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: router client: %w", err)
	}

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// Engine.
	feeOracle := engine.NewFeeOracle(ethClient, gweiToWei(cfg.Chain.GasCeilingGwei), logger)
	planner := engine.NewSwapPlanner(engine.PlannerConfig{
		DeadlineWindow:       cfg.Engine.DeadlineWindow.Duration,
		MaxQuoteDeviationBps: cfg.Engine.MaxQuoteDeviationBps,
	}, deps.PriceFeed, logger)
	submitter := engine.NewTransactionSubmitter(routerClient, engine.SubmitterConfig{
		MaxRetries: cfg.Engine.MaxRetries,
		RetryDelay: cfg.Engine.RetryDelay.Duration,
	}, logger)
	deps.Controller = engine.NewController(engine.ControllerConfig{
		BaseToken:        common.HexToAddress(cfg.Chain.BaseToken),
		CloseSlippageBps: cfg.Engine.CloseSlippageBps,
		DefaultGasPrice:  gweiToWei(cfg.Chain.DefaultGasPriceGwei),
	}, deps.Book, routerClient, planner, submitter, feeOracle, deps.Notifier, deps.AuditStore, logger)
	deps.Monitor = engine.NewPriceMonitor(engine.MonitorConfig{
		Interval:       cfg.Monitor.Interval.Duration,
		HealthInterval: cfg.Monitor.HealthInterval.Duration,
	}, deps.Book, deps.PriceFeed, deps.Controller, logger)

	// Cold archiver.
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Book, deps.AuditStore)
	}

	return deps, cleanup, nil
}

// watchTokens collects the token set the price stream should subscribe to:
// every open position's token plus the configured trade token.
func watchTokens(ctx context.Context, cfg *config.Config, book *store.PositionBook) ([]common.Address, error) {
	open, err := book.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[common.Address]struct{})
	var tokens []common.Address
	add := func(t common.Address) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}

	for _, p := range open {
		add(p.Token)
	}
	if common.IsHexAddress(cfg.Trade.Token) {
		add(common.HexToAddress(cfg.Trade.Token))
	}
	return tokens, nil
}
