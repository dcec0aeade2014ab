package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/taxpoynt/certmgr/internal/alogger"
	"github.com/taxpoynt/certmgr/internal/caintegration"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/certstore"
	"github.com/taxpoynt/certmgr/internal/common"
	"github.com/taxpoynt/certmgr/internal/db"
	"github.com/taxpoynt/certmgr/internal/httpserver"
	"github.com/taxpoynt/certmgr/internal/keymgr"
	"github.com/taxpoynt/certmgr/internal/lifecycle"
	"github.com/taxpoynt/certmgr/internal/service"
)

func main() {
	log.SetPrefix(fmt.Sprintf("%s: ", appName))
	log.SetFlags(0)

	flag.Usage = usage
	flag.Parse()

	// Process special-purpose flags.
	switch {
	case *fHelp:
		usage()
		return

	case *fSampleConfig:
		sampleConfig()
		return

	case *fVersion:
		printVersion()
		return
	}

	_ = godotenv.Load()

	// Load and process configuration.
	var cfg *config
	var err error
	if *fConfig != "" {
		cfg, err = configFromFile(*fConfig)
		if err != nil {
			log.Fatalf("failed to read configuration file: %v", err)
		}
	} else {
		log.Fatalf("no configuration file specified")
	}

	// Create logger. If no log file was specified, log to standard error.
	logW := os.Stderr
	if cfg.Logfile != "" {
		f, err := os.OpenFile(cfg.Logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("failed to open log file: %v", err)
		}
		defer f.Close()
		logW = f
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}

	var logger common.Logger
	if cfg.LogJSON {
		logger = alogger.NewStructured(logW, level)
	} else {
		logger = alogger.New(logW, level)
	}

	if err := run(cfg, logger); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(cfg *config, logger common.Logger) error {
	ctx := context.Background()

	conn, err := db.Open(cfg.Database.Type, cfg.Database.DSN, logger,
		&certstore.CertificateRecord{},
		&caintegration.CARecord{},
		&service.RequestRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close(conn)

	keys, err := keymgr.New(cfg.Storage.KeyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialise key manager: %w", err)
	}

	store, err := certstore.New(certstore.NewGormRepository(conn), cfg.Storage.CertDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialise certificate store: %w", err)
	}

	registry, err := caintegration.NewRegistry(ctx, caintegration.NewGormCARepository(conn), logger)
	if err != nil {
		return fmt.Errorf("failed to initialise CA registry: %w", err)
	}
	registry.SetRevocationCheckers(
		&caintegration.StoreRevocationChecker{Store: store},
		caintegration.NewCRLChecker(),
	)

	events, err := lifecycle.OpenBoltEventLog(cfg.Storage.EventsDB)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle event log: %w", err)
	}
	defer events.Close()

	gen := certgen.New(keys)

	lc := lifecycle.NewManager(store, gen, keys, events, logger)
	if cfg.RenewalWindowDays > 0 {
		lc.SetRenewalWindow(cfg.RenewalWindowDays)
	}

	svc := service.NewCertificateService(store, gen, keys, registry, logger)
	requests := service.NewCertificateRequestService(conn, svc, logger)

	handler := httpserver.NewHandler(svc, requests, lc, keys, logger)
	router := httpserver.NewRouter(handler, logger)
	server := httpserver.NewServer(cfg.ListenAddr, router, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Infof("certificate manager started")

	select {
	case got := <-stop:
		logger.Infof("received signal %v, shutting down", got)
		if err := server.Shutdown(); err != nil {
			return fmt.Errorf("failed to shut down cleanly: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
