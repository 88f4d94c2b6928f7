// Command dutharness runs the test harness on a device under test. It serves
// the HTTP API and, unless disabled, the framed host communicator.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/dutharness/internal/api"
	"github.com/seantiz/dutharness/internal/broker"
	"github.com/seantiz/dutharness/internal/communicator"
	"github.com/seantiz/dutharness/internal/config"
	"github.com/seantiz/dutharness/internal/controller"
	"github.com/seantiz/dutharness/internal/reporter"
	"github.com/seantiz/dutharness/internal/store"
	"github.com/seantiz/dutharness/internal/testcase"
	"github.com/seantiz/dutharness/internal/testcase/builtin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("dutharness: %v", err)
	}
}

func run(cfg config.Config) error {
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("dutharness: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"comm_transport", cfg.CommTransport,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	reg := testcase.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		return fmt.Errorf("register test cases: %w", err)
	}

	var commListener net.Listener
	if cfg.CommTransport != config.TransportNone {
		commListener, err = communicator.Listen(cfg.CommTransport, cfg.CommAddr, cfg.CommVsockPort)
		if err != nil {
			return fmt.Errorf("communicator: %w", err)
		}
	}

	b := broker.New()
	defer b.Shutdown()

	ctrl := controller.New(reg, reporter.New(db, b, logger), logger, controller.Options{
		QueueCapacity:    cfg.QueueCapacity,
		JoinTimeout:      cfg.JoinTimeout,
		ExecutionTimeout: cfg.ExecutionTimeout,
	})
	// Runs before the broker and store are released so the termination
	// report is still persisted.
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	srv := api.NewServer(cfg.ListenAddr, db, reg, ctrl, b, logger)
	g.Go(func() error { return srv.Run(ctx) })

	if commListener != nil {
		logger.Info("communicator listening",
			"transport", cfg.CommTransport,
			"addr", commListener.Addr().String(),
		)
		comm := communicator.NewServer(ctrl, b, logger)
		g.Go(func() error { return comm.Run(ctx, commListener) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("dutharness: stopped")
	return nil
}
