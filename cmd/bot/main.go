package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"snipebot/internal/config"
	"snipebot/internal/engine"
	"snipebot/internal/exchange/bsc"
	"snipebot/internal/feed"
	"snipebot/internal/feed/poll"
	"snipebot/internal/feed/ws"
	"snipebot/internal/logger"
	"snipebot/internal/report"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "путь к файлу конфигурации (по умолчанию configs/config.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	log.Info("Бот запущен.")
	code := run(ctx, cfg, log)
	log.Info("Бот остановлен.")
	_ = log.Close()
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) int {
	client, err := bsc.Dial(ctx, append(append([]string{}, cfg.Chain.HTTPRPC...), cfg.Chain.WSRPC...), bsc.Options{
		ChainID:           cfg.Chain.ChainID,
		Sniper:            common.HexToAddress(cfg.Chain.SniperContract),
		PrivateKey:        cfg.Chain.PrivateKey,
		GasLimit:          cfg.Chain.GasLimit,
		SettlementTimeout: cfg.Chain.SettlementTimeout,
		RatePerSecond:     cfg.Chain.RPCRatePerSecond,
	}, log)
	if err != nil {
		log.WithError(err).Error("Не удалось подключиться к RPC.")
		return 1
	}
	defer client.Close()

	eng := engine.New(cfg, client, log)

	var transports []feed.Transport
	for _, url := range cfg.Chain.WSRPC {
		transports = append(transports, ws.New(url, log))
	}
	for _, url := range cfg.Chain.HTTPRPC {
		transports = append(transports, poll.New(url, cfg.Feed.PollInterval, cfg.Chain.RPCRatePerSecond, log))
	}

	mgr := feed.NewManager(transports, feed.Options{
		Factory:              common.HexToAddress(cfg.Chain.Factory),
		BaseCurrency:         common.HexToAddress(cfg.Chain.BaseCurrency),
		ConnectTimeout:       cfg.Feed.ConnectTimeout(),
		MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Feed.ReconnectDelay(),
	}, eng, log)

	log.WithFields(logrus.Fields{
		"wallet":     client.Address().Hex(),
		"sniper":     cfg.Chain.SniperContract,
		"transports": len(transports),
		"snipe":      cfg.Snipe.Enabled,
	}).Info("Компоненты инициализированы.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Start(gctx) })
	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error { return eng.Consume(gctx, mgr.Discoveries()) })

	err = g.Wait()
	eng.Shutdown(context.Background())

	if rerr := report.Write(os.Stdout, eng.Summary(), eng.History(), eng.Positions()); rerr != nil {
		log.WithError(rerr).Warn("Не удалось вывести итоговый отчёт.")
	}

	switch {
	case errors.Is(err, feed.ErrFatalShutdown):
		log.WithError(err).Error("Аварийное завершение.")
		return 1
	case err != nil:
		log.WithError(err).Error("Бот завершился с ошибкой.")
		return 1
	}
	st := mgr.State()
	log.WithFields(logrus.Fields{
		"sessions":   st.Sessions,
		"last_block": st.LastBlock,
	}).Info("Поток событий закрыт штатно.")
	return 0
}
