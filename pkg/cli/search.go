package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/retry"
	"github.com/urfave/cli/v3"
)

func searchCommand() *cli.Command {
	var (
		cfg          config
		accountID    string
		query        string
		tags         []string
		limit        int64
		threshold    float64
		timeFrame    string
		minRelevance float64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "account-id",
			Aliases:     []string{"a"},
			Usage:       "Account whose knowledge space is searched",
			Sources:     cli.EnvVars("NUTMEG_ACCOUNT_ID"),
			Destination: &accountID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Natural language query",
			Destination: &query,
		},
		&cli.StringSliceFlag{
			Name:        "tag",
			Aliases:     []string{"t"},
			Usage:       "Tag to merge into the results (repeatable)",
			Destination: &tags,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of results",
			Value:       10,
			Destination: &limit,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Minimum cosine similarity for this search (defaults to --match-threshold)",
			Destination: &threshold,
		},
		&cli.StringFlag{
			Name:        "time-frame",
			Usage:       "Keep only memories referring to this time frame (all, future, past, current)",
			Destination: &timeFrame,
		},
		&cli.FloatFlag{
			Name:        "min-relevance",
			Usage:       "Minimum temporal relevance score",
			Destination: &minRelevance,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Run a hybrid search over a knowledge space",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			req := &model.SearchRequest{
				AccountID:  model.AccountID(accountID),
				Query:      query,
				Tags:       tags,
				MatchCount: int(limit),
			}
			if c.IsSet("threshold") {
				req.MatchThreshold = &threshold
			}
			if timeFrame != "" || minRelevance > 0 {
				req.Temporal = &model.TemporalFilter{
					MinRelevance: minRelevance,
					TimeFrame:    model.TimeFrame(timeFrame),
				}
			}
			if err := req.Validate(); err != nil {
				return err
			}

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := retry.Do(ctx, cfg.newRetry(), "search", func(ctx context.Context) ([]*model.SearchResult, error) {
				return uc.Search(ctx, req)
			})
			if err != nil {
				return goerr.Wrap(err, "failed to search", goerr.V("account_id", accountID))
			}

			printResults(c.Root().Writer, results)
			return nil
		},
	}
}

func printResults(w io.Writer, results []*model.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No memories found\n")
		return
	}

	for i, r := range results {
		fmt.Fprintf(w, "%2d. [%6.3f %-6s] %s (doc: %s)\n", i+1, r.Similarity, r.MatchedBy, r.ID, r.DocumentID)
		printContent(w, r.KnowledgeVector)
	}
}

func printContent(w io.Writer, v *model.KnowledgeVector) {
	for _, line := range strings.Split(v.EnrichedContent, "\n") {
		fmt.Fprintf(w, "      %s\n", line)
	}
	if len(v.Tags) > 0 {
		fmt.Fprintf(w, "      tags: %s\n", strings.Join(v.Tags, ", "))
	}
}
