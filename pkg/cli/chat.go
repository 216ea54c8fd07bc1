package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/server"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg   config
		owner string
	)

	flags := []cli.Flag{ownerFlag(&owner)}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, policyFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Ask questions about your notes interactively",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			a, err := cfg.newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := server.SessionFactory(a.gemini, a.notes, a.settings)(model.OwnerID(owner))
			if err != nil {
				return goerr.Wrap(err, "failed to create chat session")
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Chat session started. Type 'exit' to quit.\n")

			var messages []*model.Message
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				line = strings.TrimSpace(line)
				if line == "exit" {
					break
				}
				if line == "" {
					continue
				}

				dialogue := append(messages, &model.Message{Role: model.RoleUser, Content: line})

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				sp.Suffix = " searching notes..."
				sp.Start()

				emit := func(token string) error {
					if sp.Active() {
						sp.Stop()
					}
					_, err := fmt.Fprint(w, token)
					return err
				}

				result, err := runner.Run(ctx, dialogue, emit)
				sp.Stop()
				fmt.Fprintln(w)

				if err != nil {
					logging.From(ctx).Error("failed to answer", "error", err)
					fmt.Fprintf(w, "(the answer could not be completed, try again)\n")
					continue
				}

				messages = append(dialogue, result.Messages...)
				if result.StepBoundExceeded {
					logging.From(ctx).Debug("answer stopped at step bound", "steps", result.Steps)
				}
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}
