package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zanotrade/marketbot/cmd/marketbot/internal/config"
	"github.com/zanotrade/marketbot/engine"
	mlog "github.com/zanotrade/marketbot/log"
	"github.com/zanotrade/marketbot/marketbot"
	"github.com/zanotrade/marketbot/pkg/sqllogger"
	"github.com/zanotrade/marketbot/storage"
	"github.com/zanotrade/marketbot/supervisor"
	"github.com/zanotrade/marketbot/telegram"
	"github.com/zanotrade/marketbot/venue"
	"github.com/zanotrade/marketbot/wallet"
)

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	// A missing .env just means everything comes from real env or flags.
	_ = godotenv.Load()

	cfg := config.DefaultConfig()
	fs := config.NewConfigFlagSet(&cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		fatal("parsing flags failed", err)
	}
	if err := config.ApplyEnvDefaults(fs, &cfg); err != nil {
		fatal("invalid parameters", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fatal("invalid configuration", err)
	}

	pairs, err := config.LoadPairs(cfg.PairsPath)
	if err != nil {
		fatal("loading pair config failed", err)
	}

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		fatal("storage init failed", err)
	}
	defer store.Close()

	sink, err := sqllogger.NewHandler(
		sqllogger.WithInsertFunc(store.LogInsertFunc()),
		sqllogger.WithMinLevel(slog.LevelInfo),
	)
	if err != nil {
		fatal("log sink init failed", err)
	}

	logger := slog.New(mlog.NewMultiHandler(config.GetLogHandler(cfg), sink))
	slog.SetDefault(logger)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelDebug).Writer())
	appCtx = mlog.ContextWithLogger(appCtx, logger)

	if err := store.SyncWithConfig(appCtx, pairs); err != nil {
		fatal("order record sync failed", err)
	}

	walletClient := wallet.New(wallet.ClientConfig{
		WalletURL: cfg.WalletURL,
		DaemonURL: cfg.DaemonURL,
		APIToken:  cfg.APIToken,
	})
	venueClient := venue.NewClient(venue.ClientConfig{BaseURL: cfg.VenueURL})

	credentials, err := walletClient.WalletData(appCtx)
	if err != nil {
		fatal("wallet credentials failed", err)
	}
	token, err := venueClient.Auth(appCtx, venue.AuthParams{
		Address:   credentials.Address,
		Alias:     credentials.Alias,
		Message:   credentials.Message,
		Signature: credentials.Signature,
	})
	if err != nil {
		fatal("venue auth failed", err)
	}
	logger.Info("authenticated on venue", "alias", credentials.Alias)

	var notifier marketbot.Notifier = marketbot.NopNotifier{}
	if cfg.TelegramBotToken != "" {
		tg := telegram.New(cfg.TelegramBotToken, cfg.TelegramAdminUsername, store)
		go tg.RunCommandLoop(appCtx)
		notifier = tg
	}

	a := &app{
		venue:    venueClient,
		wallet:   walletClient,
		store:    store,
		sup:      supervisor.New(supervisor.WithPingInterval(cfg.PingInterval)),
		ignore:   engine.NewIgnoreSet(),
		notifier: notifier,
		token:    token,
		logger:   logger.WithGroup("app"),
	}

	// Long-lived loops hang off appCtx; the group only gates startup.
	var g errgroup.Group
	for _, pair := range pairs {
		g.Go(func() error {
			if pair.Mode() == marketbot.ModeLive {
				return a.runLivePair(appCtx, pair)
			}
			return a.startPair(appCtx, pair)
		})
	}
	if err := g.Wait(); err != nil {
		fatal("pair startup failed", err)
	}

	<-appCtx.Done()
	logger.Info("shutting down")

	a.sup.DestroyAll()
	a.wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Close(closeCtx); err != nil {
		logger.Warn("log sink close failed", "error", err)
	}
}
