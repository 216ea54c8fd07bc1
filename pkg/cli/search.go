package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/urfave/cli/v3"
)

func searchCommand() *cli.Command {
	var (
		cfg   config
		owner string
	)

	flags := []cli.Flag{ownerFlag(&owner)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Show notes relevant to a query with their scores",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			query := strings.Join(c.Args().Slice(), " ")
			if query == "" {
				return goerr.New("query is required")
			}

			a, err := cfg.newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			found, err := a.notes.Search(ctx, query, model.OwnerID(owner))
			if err != nil {
				return goerr.Wrap(err, "failed to search notes")
			}

			w := c.Root().Writer
			if len(found) == 0 {
				fmt.Fprintf(w, "No notes scored above %.2f\n", a.settings.ScoreThreshold)
				return nil
			}

			for _, s := range found {
				fmt.Fprintf(w, "%.4f\t%s\t%s\n", s.Score, s.Note.ID, s.Note.Title)
			}
			return nil
		},
	}
}
