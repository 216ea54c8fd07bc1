package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/usecase/note"
	"github.com/urfave/cli/v3"
)

func noteCommand() *cli.Command {
	return &cli.Command{
		Name:  "note",
		Usage: "Manage notes",
		Commands: []*cli.Command{
			noteAddCommand(),
			noteDeleteCommand(),
			noteListCommand(),
			noteImportCommand(),
		},
	}
}

func noteAddCommand() *cli.Command {
	var (
		cfg   config
		owner string
		title string
		body  string
		file  string
	)

	flags := []cli.Flag{
		ownerFlag(&owner),
		&cli.StringFlag{
			Name:        "title",
			Aliases:     []string{"t"},
			Usage:       "Note title",
			Destination: &title,
		},
		&cli.StringFlag{
			Name:        "body",
			Usage:       "Note body",
			Destination: &body,
		},
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Read the body from a file, '-' for stdin",
			Destination: &file,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, policyFlags(&cfg)...)

	return &cli.Command{
		Name:  "add",
		Usage: "Create a note and index it",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if file != "" {
				text, err := readInput(file)
				if err != nil {
					return err
				}
				body = text
			}

			a, err := cfg.newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.notes.Create(ctx, note.CreateInput{
				Owner:  model.OwnerID(owner),
				Title:  title,
				Body:   body,
				Source: file,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to create note")
			}

			fmt.Fprintf(c.Root().Writer, "%s\t%s\n", created.ID, created.Title)
			return nil
		},
	}
}

func readInput(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", goerr.Wrap(err, "failed to open input", goerr.V("path", path))
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read input", goerr.V("path", path))
	}
	return string(data), nil
}

func noteDeleteCommand() *cli.Command {
	var (
		cfg   config
		owner string
	)

	flags := []cli.Flag{ownerFlag(&owner)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete notes and their index records",
		ArgsUsage: "<note-id>...",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			ids := c.Args().Slice()
			if len(ids) == 0 {
				return goerr.New("note ID is required")
			}

			a, err := cfg.newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range ids {
				if err := a.notes.Delete(ctx, model.OwnerID(owner), model.NoteID(id)); err != nil {
					return goerr.Wrap(err, "failed to delete note", goerr.V("id", id))
				}
				fmt.Fprintf(c.Root().Writer, "deleted %s\n", id)
			}
			return nil
		},
	}
}

func noteListCommand() *cli.Command {
	var (
		cfg    config
		owner  string
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		ownerFlag(&owner),
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of notes to list (0 for no limit)",
			Value:       100,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List notes, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			a, err := cfg.newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			notes, err := a.notes.List(ctx, model.OwnerID(owner), int(offset), int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list notes")
			}

			for _, n := range notes {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", n.ID, n.CreatedAt.Format(time.DateTime), n.Title)
			}
			return nil
		},
	}
}

func noteImportCommand() *cli.Command {
	var (
		cfg    config
		owner  string
		bucket string
		prefix string
	)

	flags := []cli.Flag{
		ownerFlag(&owner),
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket to import from",
			Sources:     cli.EnvVars("RAGNOTE_IMPORT_BUCKET"),
			Destination: &bucket,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object name prefix",
			Destination: &prefix,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, policyFlags(&cfg)...)

	return &cli.Command{
		Name:  "import",
		Usage: "Import .md and .txt objects from Cloud Storage as notes",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			storage, err := cfg.newStorage(ctx, bucket)
			if err != nil {
				return err
			}

			a, err := cfg.newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.notes.Import(ctx, storage, model.OwnerID(owner), prefix)
			if err != nil {
				return goerr.Wrap(err, "failed to import notes")
			}

			w := c.Root().Writer
			for _, n := range result.Imported {
				fmt.Fprintf(w, "imported\t%s\t%s\n", n.ID, n.Title)
			}
			for _, s := range result.Skipped {
				fmt.Fprintf(w, "skipped\t%s\t%s\n", s.Key, s.Reason)
			}
			return nil
		},
	}
}
