package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/urfave/cli/v3"
)

func recentCommand() *cli.Command {
	var (
		cfg       config
		accountID string
		limit     int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "account-id",
			Aliases:     []string{"a"},
			Usage:       "Account whose memories are listed",
			Sources:     cli.EnvVars("NUTMEG_ACCOUNT_ID"),
			Destination: &accountID,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of memories and tags to show",
			Value:       10,
			Destination: &limit,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "recent",
		Usage: "Show the newest memories and most used tags of an account",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			dashboard, err := uc.Dashboard(ctx, model.AccountID(accountID), int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to load dashboard", goerr.V("account_id", accountID))
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Recent memories (%d)\n", len(dashboard.Recent))
			for _, v := range dashboard.Recent {
				fmt.Fprintf(w, "  %s  %s (doc: %s)\n", v.CreatedAt.Format("2006-01-02 15:04"), v.ID, v.DocumentID)
				printContent(w, v)
			}

			fmt.Fprintf(w, "\nTags (%d)\n", len(dashboard.Tags))
			for _, t := range dashboard.Tags {
				fmt.Fprintf(w, "  %-20s %d\n", t.Tag, t.Count)
			}
			return nil
		},
	}
}
