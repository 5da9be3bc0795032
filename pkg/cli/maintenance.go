package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/adapter"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/usecase/knowledge"
	"github.com/urfave/cli/v3"
)

func newSpinner(w io.Writer, suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	return s
}

func reconcileCommand() *cli.Command {
	var (
		cfg       config
		accountID string
		dryRun    bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "account-id",
			Aliases:     []string{"a"},
			Usage:       "Account to reconcile (all accounts when omitted)",
			Sources:     cli.EnvVars("NUTMEG_ACCOUNT_ID"),
			Destination: &accountID,
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Report drift without changing vectors",
			Destination: &dryRun,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "reconcile",
		Usage: "Repair drift between memory documents and vectors",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			s := newSpinner(c.Root().ErrWriter, "reconciling...")
			s.Start()

			var reports []*model.ReconcileReport
			if accountID != "" {
				var report *model.ReconcileReport
				report, err = uc.Reconcile(ctx, model.AccountID(accountID), dryRun)
				if report != nil {
					reports = append(reports, report)
				}
			} else {
				reports, err = uc.ReconcileAll(ctx, dryRun)
			}
			s.Stop()
			if err != nil {
				return goerr.Wrap(err, "failed to reconcile", goerr.V("account_id", accountID))
			}

			w := c.Root().Writer
			for _, r := range reports {
				fmt.Fprintf(w, "%s: %d orphan(s), %d missing", r.AccountID, len(r.Orphans), len(r.Missing))
				if r.DryRun {
					fmt.Fprintf(w, " (dry run)\n")
				} else {
					fmt.Fprintf(w, ", deleted %d, stored %d\n", r.Deleted, r.Stored)
				}
				for _, id := range r.Orphans {
					fmt.Fprintf(w, "  orphan vector:    %s\n", id)
				}
				for _, id := range r.Missing {
					fmt.Fprintf(w, "  missing document: %s\n", id)
				}
			}
			return nil
		},
	}
}

func reembedCommand() *cli.Command {
	var (
		cfg       config
		accountID string
		force     bool
		bucket    string
		prefix    string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "account-id",
			Aliases:     []string{"a"},
			Usage:       "Account whose vectors are re-embedded",
			Sources:     cli.EnvVars("NUTMEG_ACCOUNT_ID"),
			Destination: &accountID,
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "force",
			Usage:       "Re-embed every vector, not only stale ones",
			Destination: &force,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket receiving a snapshot before re-embedding",
			Sources:     cli.EnvVars("NUTMEG_BUCKET"),
			Destination: &bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object name prefix of snapshots",
			Value:       "snapshots/",
			Sources:     cli.EnvVars("NUTMEG_BUCKET_PREFIX"),
			Destination: &prefix,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "reembed",
		Usage: "Re-enrich and re-embed vectors after a vocabulary or model change",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			w := c.Root().Writer
			if bucket != "" {
				storage, err := adapter.NewStorage(ctx, bucket, prefix)
				if err != nil {
					return err
				}
				key := snapshotKey(accountID)
				n, err := exportTo(ctx, uc, storage, model.AccountID(accountID), key)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Snapshot of %d vector(s) saved to gs://%s/%s%s\n", n, bucket, prefix, key)
			}

			s := newSpinner(c.Root().ErrWriter, "re-embedding...")
			s.Start()
			n, err := uc.Reembed(ctx, model.AccountID(accountID), force)
			s.Stop()
			if err != nil {
				return goerr.Wrap(err, "failed to re-embed", goerr.V("account_id", accountID), goerr.V("done", n))
			}

			fmt.Fprintf(w, "Re-embedded %d vector(s)\n", n)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	var (
		cfg        config
		accountID  string
		outputPath string
		bucket     string
		prefix     string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "account-id",
			Aliases:     []string{"a"},
			Usage:       "Account to export",
			Sources:     cli.EnvVars("NUTMEG_ACCOUNT_ID"),
			Destination: &accountID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the snapshot to this file instead of stdout",
			Destination: &outputPath,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Write the snapshot to this Cloud Storage bucket",
			Sources:     cli.EnvVars("NUTMEG_BUCKET"),
			Destination: &bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object name prefix of snapshots",
			Value:       "snapshots/",
			Sources:     cli.EnvVars("NUTMEG_BUCKET_PREFIX"),
			Destination: &prefix,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Export the vectors of an account as JSON Lines",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if bucket != "" {
				storage, err := adapter.NewStorage(ctx, bucket, prefix)
				if err != nil {
					return err
				}
				key := snapshotKey(accountID)
				n, err := exportTo(ctx, uc, storage, model.AccountID(accountID), key)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.Root().ErrWriter, "Exported %d vector(s) to gs://%s/%s%s\n", n, bucket, prefix, key)
				return nil
			}

			out := c.Root().Writer
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return goerr.Wrap(err, "failed to create output file", goerr.V("path", outputPath))
				}
				defer f.Close()
				out = f
			}

			n, err := uc.Export(ctx, model.AccountID(accountID), out)
			if err != nil {
				return goerr.Wrap(err, "failed to export", goerr.V("account_id", accountID))
			}
			fmt.Fprintf(c.Root().ErrWriter, "Exported %d vector(s)\n", n)
			return nil
		},
	}
}

func restoreCommand() *cli.Command {
	var (
		cfg       config
		accountID string
		inputPath string
		bucket    string
		prefix    string
		key       string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "account-id",
			Aliases:     []string{"a"},
			Usage:       "Account receiving the vectors",
			Sources:     cli.EnvVars("NUTMEG_ACCOUNT_ID"),
			Destination: &accountID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Snapshot file ('-' for stdin)",
			Destination: &inputPath,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Read the snapshot from this Cloud Storage bucket",
			Sources:     cli.EnvVars("NUTMEG_BUCKET"),
			Destination: &bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object name prefix of snapshots",
			Value:       "snapshots/",
			Sources:     cli.EnvVars("NUTMEG_BUCKET_PREFIX"),
			Destination: &prefix,
		},
		&cli.StringFlag{
			Name:        "key",
			Usage:       "Snapshot object name under the prefix",
			Destination: &key,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "restore",
		Usage: "Restore vectors from an exported snapshot without calling the embedding model",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			var in io.Reader
			switch {
			case bucket != "":
				if key == "" {
					return goerr.New("key is required with bucket")
				}
				storage, err := adapter.NewStorage(ctx, bucket, prefix)
				if err != nil {
					return err
				}
				r, err := storage.Get(ctx, key)
				if err != nil {
					return err
				}
				defer r.Close()
				in = r

			case inputPath == "-":
				in = c.Root().Reader

			case inputPath != "":
				f, err := os.Open(inputPath)
				if err != nil {
					return goerr.Wrap(err, "failed to open snapshot", goerr.V("path", inputPath))
				}
				defer f.Close()
				in = f

			default:
				return goerr.New("input or bucket is required")
			}

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := uc.Import(ctx, model.AccountID(accountID), in)
			if err != nil {
				return goerr.Wrap(err, "failed to restore snapshot", goerr.V("account_id", accountID), goerr.V("done", n))
			}

			fmt.Fprintf(c.Root().Writer, "Restored %d vector(s)\n", n)
			return nil
		},
	}
}

func snapshotKey(accountID string) string {
	return accountID + "/" + time.Now().UTC().Format("20060102-150405") + ".jsonl"
}

func exportTo(ctx context.Context, uc *knowledge.UseCase, storage adapter.SnapshotStorage, accountID model.AccountID, key string) (int, error) {
	w, err := storage.Put(ctx, key)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to open snapshot", goerr.V("key", key))
	}

	n, err := uc.Export(ctx, accountID, w)
	if err != nil {
		_ = w.Close()
		return 0, goerr.Wrap(err, "failed to export", goerr.V("account_id", accountID))
	}
	if err := w.Close(); err != nil {
		return 0, goerr.Wrap(err, "failed to save snapshot", goerr.V("key", key))
	}
	return n, nil
}

func sweepCommand() *cli.Command {
	var (
		cfg        config
		accountID  string
		query      string
		thresholds []float64
		limit      int64
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
			Required:    true,
		},
		&cli.FloatSliceFlag{
			Name:        "thresholds",
			Usage:       "Cosine similarity cutoffs to try",
			Value:       []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1, 0.0},
			Destination: &thresholds,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum rows per search",
			Value:       50,
			Destination: &limit,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "sweep",
		Usage: "Show how many memories match a query at each similarity threshold",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			points, err := uc.Sweep(ctx, model.AccountID(accountID), query, thresholds, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to sweep", goerr.V("account_id", accountID))
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "threshold  count  top\n")
			for _, p := range points {
				fmt.Fprintf(w, "%9.2f  %5d  %v\n", p.Threshold, p.Count, p.Top)
			}
			return nil
		},
	}
}
