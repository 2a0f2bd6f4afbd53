package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dshills/luahost/internal/session"
	"github.com/dshills/luahost/internal/transport"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve a session over WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "address to listen on",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if c.IsSet("listen") {
		cfg.Server.Listen = c.String("listen")
	}
	logger := newLogger(cfg)

	opts := session.OptionsFromConfig(cfg)
	opts.Logger = logger
	sess, err := session.New(opts)
	if err != nil {
		return err
	}
	defer sess.Close()
	logger.Info("session started", "session", sess.ID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := transport.NewServer(sess,
		transport.WithLogger(logger),
		transport.WithPath(cfg.Server.Path),
		transport.WithReadLimit(cfg.Server.ReadLimit),
		transport.WithShutdownTimeout(cfg.Server.ShutdownTimeout.Std()),
	)
	if err := srv.ListenAndServe(ctx, cfg.Server.Listen); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
