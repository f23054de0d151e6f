package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/minnow-im/minnow"
	"github.com/minnow-im/minnow/store"
)

func main() {
	cfgPath := flag.String("config", "minnow.yml", "Path to the server config file")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05.000",
	}).With().Timestamp().Logger()

	cfg, err := minnow.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Fail to load config")
	}

	level, err := cfg.Level()
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("Bad log level")
	}
	log.Logger = log.Logger.Level(level)

	tlsConf, err := cfg.TLSConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Fail to set up TLS")
	}

	motd, err := minnow.LoadMOTD(cfg.MOTDPath, cfg.ServerName)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.MOTDPath).Msg("Fail to load MOTD")
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Fail to open credential store")
	}
	defer st.Close()

	srv, err := minnow.NewServer(cfg.ServerName,
		minnow.WithDialect(cfg.Dialect),
		minnow.WithServerPassword(cfg.ServerPassword),
		minnow.WithStore(st),
		minnow.WithMOTD(motd),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Fail to create server")
	}

	if cfg.MetricsAddr != "" {
		go metricsServer(cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(ctx, cfg.Addr(), tlsConf); err != nil {
		log.Error().Err(err).Msg("Fail to start server")
	}
}

func openStore(cfg *minnow.Config) (store.Store, error) {
	if cfg.StoreBackend == "disk" {
		return store.OpenDisk(cfg.StorePath)
	}
	return store.NewMemory(), nil
}

func metricsServer(address string) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("Alive"))
	})

	log.Info().Msgf("Http server started address=%s", address)
	http.ListenAndServe(address, nil)
}
