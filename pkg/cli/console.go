package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/usecase/knowledge"
	"github.com/urfave/cli/v3"
)

const consoleHelp = `Type a query to run a hybrid search. Commands:
  /tags <tag> [tag...]   search by tags only
  /threshold <value>     set the match threshold of following searches (empty resets)
  /limit <n>             set the number of results
  /recent                show the newest memories
  /stats                 show tag counts
  exit                   quit
`

func consoleCommand() *cli.Command {
	var (
		cfg       config
		accountID string
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
	}
	flags = append(flags, knowledgeFlags(&cfg)...)

	return &cli.Command{
		Name:  "console",
		Usage: "Interactive search over a knowledge space for tuning",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(c.Root().ErrWriter)

			uc, cleanup, err := cfg.newKnowledge(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "nutmeg> ",
				HistoryFile:     historyFile(),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start console")
			}
			defer rl.Close()

			session := &consoleSession{
				uc:        uc,
				accountID: model.AccountID(accountID),
				limit:     10,
				w:         rl.Stdout(),
			}
			fmt.Fprint(session.w, consoleHelp)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				line = strings.TrimSpace(line)
				if line == "exit" || line == "quit" {
					return nil
				}
				if line == "" {
					continue
				}

				if err := session.exec(ctx, line); err != nil {
					fmt.Fprintf(session.w, "error: %s (%s)\n", err.Error(), model.ErrorCode(err))
				}
			}
		},
	}
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nutmeg_history")
}

// consoleSession keeps the search settings changed by console commands
type consoleSession struct {
	uc        *knowledge.UseCase
	accountID model.AccountID
	threshold *float64
	limit     int
	w         io.Writer
}

func (s *consoleSession) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		fmt.Fprint(s.w, consoleHelp)
		return nil

	case "/tags":
		return s.search(ctx, "", strings.Fields(arg))

	case "/threshold":
		if arg == "" {
			s.threshold = nil
			fmt.Fprintf(s.w, "threshold reset to default\n")
			return nil
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return goerr.Wrap(err, "invalid threshold", goerr.V("value", arg))
		}
		s.threshold = &v
		return nil

	case "/limit":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return goerr.New("limit must be a positive integer", goerr.V("value", arg))
		}
		s.limit = n
		return nil

	case "/recent":
		rows, err := s.uc.Recent(ctx, s.accountID, s.limit)
		if err != nil {
			return err
		}
		for _, v := range rows {
			fmt.Fprintf(s.w, "  %s  %s\n", v.CreatedAt.Format("2006-01-02 15:04"), v.ID)
			printContent(s.w, v)
		}
		return nil

	case "/stats":
		tags, err := s.uc.Tags(ctx, s.accountID, 0)
		if err != nil {
			return err
		}
		for _, t := range tags {
			fmt.Fprintf(s.w, "  %-20s %d\n", t.Tag, t.Count)
		}
		return nil
	}

	if strings.HasPrefix(cmd, "/") {
		return goerr.New("unknown command", goerr.V("command", cmd))
	}
	return s.search(ctx, line, nil)
}

func (s *consoleSession) search(ctx context.Context, query string, tags []string) error {
	results, err := s.uc.Search(ctx, &model.SearchRequest{
		AccountID:      s.accountID,
		Query:          query,
		Tags:           tags,
		MatchThreshold: s.threshold,
		MatchCount:     s.limit,
	})
	if err != nil {
		return err
	}

	printResults(s.w, results)
	return nil
}
