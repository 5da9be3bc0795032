package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/retry"
	"github.com/urfave/cli/v3"
)

func storeCommand() *cli.Command {
	var (
		cfg        config
		accountID  string
		documentID string
		content    string
		inputPath  string
		tags       []string
		author     string
		source     string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "account-id",
			Aliases:     []string{"a"},
			Usage:       "Account owning the memory",
			Sources:     cli.EnvVars("NUTMEG_ACCOUNT_ID"),
			Destination: &accountID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "document-id",
			Usage:       "ID of the memory document in the document store",
			Destination: &documentID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "content",
			Aliases:     []string{"c"},
			Usage:       "Memory text",
			Destination: &content,
		},
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Read memory text from file ('-' for stdin)",
			Destination: &inputPath,
		},
		&cli.StringSliceFlag{
			Name:        "tag",
			Aliases:     []string{"t"},
			Usage:       "Tag of the memory (repeatable)",
			Destination: &tags,
		},
		&cli.StringFlag{
			Name:        "author",
			Usage:       "Author of the memory",
			Destination: &author,
		},
		&cli.StringFlag{
			Name:        "source",
			Usage:       "Source of the memory",
			Value:       "cli",
			Destination: &source,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "store",
		Usage: "Enrich, embed and store a memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			if inputPath != "" {
				data, err := readInput(c.Root().Reader, inputPath)
				if err != nil {
					return err
				}
				content = string(data)
			}

			entry := &model.Entry{
				Content: content,
				Tags:    tags,
				Author:  author,
				Source:  source,
			}
			if err := entry.Validate(); err != nil {
				return err
			}

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			id, err := retry.Do(ctx, cfg.newRetry(), "store", func(ctx context.Context) (model.VectorID, error) {
				return uc.Store(ctx, model.AccountID(accountID), model.DocumentID(documentID), entry)
			})
			if err != nil {
				return goerr.Wrap(err, "failed to store memory", goerr.V("document_id", documentID))
			}

			fmt.Fprintf(c.Root().Writer, "Stored: %s\n", id)
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	var (
		cfg        config
		vectorID   string
		accountID  string
		documentID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "vector-id",
			Aliases:     []string{"v"},
			Usage:       "ID of the vector to delete",
			Destination: &vectorID,
		},
		&cli.StringFlag{
			Name:        "account-id",
			Aliases:     []string{"a"},
			Usage:       "Account owning the document (with --document-id)",
			Sources:     cli.EnvVars("NUTMEG_ACCOUNT_ID"),
			Destination: &accountID,
		},
		&cli.StringFlag{
			Name:        "document-id",
			Usage:       "Delete the vector linked to this document",
			Destination: &documentID,
		},
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "delete",
		Usage: "Delete a vector. The memory document is left untouched",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			if vectorID == "" && (accountID == "" || documentID == "") {
				return goerr.New("vector-id, or account-id and document-id are required")
			}

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			err = retry.Run(ctx, cfg.newRetry(), "delete", func(ctx context.Context) error {
				if vectorID != "" {
					return uc.Delete(ctx, model.VectorID(vectorID))
				}
				return uc.DeleteByDocument(ctx, model.AccountID(accountID), model.DocumentID(documentID))
			})
			if err != nil {
				return goerr.Wrap(err, "failed to delete vector",
					goerr.V("vector_id", vectorID), goerr.V("document_id", documentID))
			}

			fmt.Fprintf(c.Root().Writer, "Deleted\n")
			return nil
		},
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read stdin")
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read input file", goerr.V("path", path))
	}
	return data, nil
}
