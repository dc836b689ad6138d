package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matheus3301/wxm/internal/bus"
	"github.com/matheus3301/wxm/internal/config"
	"github.com/matheus3301/wxm/internal/dispatch"
	"github.com/matheus3301/wxm/internal/lock"
	"github.com/matheus3301/wxm/internal/logging"
	"github.com/matheus3301/wxm/internal/session"
	"github.com/matheus3301/wxm/internal/status"
	intsync "github.com/matheus3301/wxm/internal/sync"
	"github.com/matheus3301/wxm/internal/tui"
	"github.com/matheus3301/wxm/internal/wx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const program = "wxmtui"

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run polls the session in-process and shows it until the user quits. The
// viewer takes the session lock itself, so it refuses to start next to a
// running wxmd for the same session.
func run(sessionName string) error {
	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		return err
	}
	if err := session.EnsureDir(sessionName); err != nil {
		return err
	}
	lk, err := lock.Acquire(session.LockPath(sessionName), program)
	if err != nil {
		return err
	}
	defer func() { _ = lk.Release() }()

	logger, err := logging.New(session.LogPath(sessionName, program), sessionName, logging.Options{
		Level: cfg.Log.Level,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	creds, err := config.LoadCredentials(session.CredentialsPath(sessionName), session.EnvPath(sessionName))
	if err != nil {
		return err
	}
	remote, err := wx.NewClient(creds, logger.Named("wx"))
	if err != nil {
		return err
	}

	b := bus.New()
	machine := status.NewMachine(b)
	state := session.NewState()
	app := tui.NewApp(tui.Options{
		Session: sessionName,
		Machine: machine,
		Self:    state.Self,
		Logger:  logger.Named("tui"),
	})
	disp := dispatch.New(app, b, logger.Named("dispatch"))
	engine := intsync.NewEngine(remote, state, disp, machine, logger.Named("sync"), intsync.Options{
		PollInterval: cfg.Sync.PollInterval.Duration,
		PageSize:     cfg.Sync.PageSize,
	})
	app.SetLoop(engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	disp.Start(gctx)
	defer disp.Stop()

	g.Go(func() error {
		err := engine.Run(gctx)
		if errors.Is(err, wx.ErrSessionInvalid) {
			// The viewer keeps showing what was received.
			return nil
		}
		return err
	})
	g.Go(func() error {
		return app.WatchStatus(gctx, b)
	})
	g.Go(func() error {
		defer stop()
		return app.Run(gctx)
	})

	err = g.Wait()
	logger.Info("viewer exited", zap.Error(err))
	return err
}
