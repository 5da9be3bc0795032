package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/nutmeg/pkg/server"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg            config
		addr           string
		requestTimeout time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       ":8080",
			Sources:     cli.EnvVars("NUTMEG_ADDR"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "request-timeout",
			Usage:       "Deadline of one HTTP request including retries",
			Value:       server.DefaultRequestTimeout,
			Sources:     cli.EnvVars("NUTMEG_REQUEST_TIMEOUT"),
			Destination: &requestTimeout,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the knowledge search and write API over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(uc,
				server.WithRetry(cfg.newRetry()),
				server.WithRequestTimeout(requestTimeout),
			)

			return srv.Run(logging.With(ctx, logging.Default()), addr)
		},
	}
}
