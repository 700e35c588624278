package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cadenabitcoin/dlcoracle/params"
	"github.com/cadenabitcoin/dlcoracle/pkg/api"
	"github.com/cadenabitcoin/dlcoracle/pkg/crypto"
	"github.com/cadenabitcoin/dlcoracle/pkg/oracle"
	"github.com/cadenabitcoin/dlcoracle/pkg/price"
	"github.com/cadenabitcoin/dlcoracle/pkg/scheduler"
	"github.com/cadenabitcoin/dlcoracle/pkg/store"
	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		println("failed to init logger:", err.Error())
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	signer, err := crypto.NewSignerFromSecretFile(cfg.Key.SecretFileName, cfg.Key.SecretPwd)
	if err != nil {
		log.Fatalw("secret_file_load_failed", "file", cfg.Key.SecretFileName, "err", err)
	}
	pubKey, err := signer.PublicKey(0)
	if err != nil {
		log.Fatalw("public_key_derive_failed", "err", err)
	}
	log.Infow("signer_loaded", "network", signer.Network(), "xpub", signer.Xpub(), "public_key", pubKey)

	if err := os.MkdirAll(cfg.Node.DBDir, 0755); err != nil {
		log.Fatalw("db_dir_create_failed", "dir", cfg.Node.DBDir, "err", err)
	}
	st, err := store.OpenSQLite(filepath.Join(cfg.Node.DBDir, "ora.db"))
	if err != nil {
		log.Fatalw("store_open_failed", "err", err)
	}
	defer st.Close()

	evidence, err := price.OpenEvidenceLog(filepath.Join(cfg.Node.DBDir, "evidence"))
	if err != nil {
		log.Fatalw("evidence_log_open_failed", "err", err)
	}
	defer evidence.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := util.RealClock{}
	coinbase := price.NewCoinbase(clock, log)
	go coinbase.Run(ctx)
	aggr := price.NewAggregator([]price.Source{
		price.NewBitstamp(clock),
		price.NewBinanceUS(clock),
		price.NewKraken(clock),
		coinbase,
	}, clock, log)

	o := oracle.New(st, pubKey, aggr, clock, log, cfg.Node.HorizonDays)
	added, err := o.EnsureDefaultClasses(clock.Now().Unix())
	if err != nil {
		log.Fatalw("default_classes_failed", "err", err)
	}
	if added > 0 {
		log.Infow("default_classes_loaded", "count", added)
	}
	o.LogStats()

	sched := scheduler.New(st, signer, aggr, clock, log, evidence, cfg.Node.HorizonDays)
	sched.Start(ctx)

	server := api.NewServer(o, cfg.Node.DemoMode, cfg.Node.StaticDir)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Node.ListenAddr) }()

	log.Infow("oracle_started",
		"listen", cfg.Node.ListenAddr, "db_dir", cfg.Node.DBDir,
		"horizon_days", cfg.Node.HorizonDays, "demo_mode", cfg.Node.DemoMode)

	select {
	case <-ctx.Done():
		log.Infow("oracle_stopping")
	case err := <-errCh:
		log.Fatalw("api_server_failed", "err", err)
	}
}
