package cli

import (
	"context"

	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "nutmeg",
		Usage: "Hybrid semantic retrieval over a personal knowledge space",
		Commands: []*cli.Command{
			serveCommand(),
			searchCommand(),
			storeCommand(),
			deleteCommand(),
			recentCommand(),
			reconcileCommand(),
			reembedCommand(),
			exportCommand(),
			restoreCommand(),
			sweepCommand(),
			consoleCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
