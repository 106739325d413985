package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"taskmaster/internal/api"
	"taskmaster/internal/scheduler"
	"taskmaster/internal/store"
)

func main() {
	var (
		addr    = flag.String("addr", ":4000", "HTTP bind address")
		dbPath  = flag.String("db", "taskmaster.db", "SQLite DB path")
		scan    = flag.Duration("scan", 5*time.Second, "due-task scan interval")
		trigger = flag.String("trigger", "scanner", "recurring-task trigger mode: scanner or timers")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	var mode scheduler.TriggerMode
	switch *trigger {
	case "scanner":
		mode = scheduler.TriggerScanner
	case "timers":
		mode = scheduler.TriggerTimers
	default:
		log.Fatal().Str("trigger", *trigger).Msg("unknown trigger mode")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	repo := store.NewSQLiteRepo(db)
	engine := scheduler.NewEngine(repo, *scan, mode)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := engine.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("engine")
		}
	}()

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(engine)}
	go func() {
		log.Info().Str("addr", *addr).Str("trigger", *trigger).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
