package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/service/mcp"
	"github.com/m-mizutani/ragnote/pkg/tool/notes"
	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

func mcpCommand() *cli.Command {
	var (
		cfg       config
		owner     string
		transport string
		addr      string
	)

	flags := []cli.Flag{
		ownerFlag(&owner),
		&cli.StringFlag{
			Name:        "transport",
			Usage:       "MCP transport (stdio, http)",
			Value:       "stdio",
			Sources:     cli.EnvVars("RAGNOTE_MCP_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address for the http transport",
			Value:       "127.0.0.1:8081",
			Sources:     cli.EnvVars("RAGNOTE_MCP_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve findRelevantNotes for one owner over MCP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			// stdout belongs to the stdio transport, so logs go to stderr
			ctx = cfg.setupLogger(ctx)

			a, err := cfg.newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			finder, err := notes.New(a.notes, model.OwnerID(owner))
			if err != nil {
				return err
			}
			server := mcp.NewServer(finder, version)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			switch transport {
			case "stdio":
				return mcp.ServeStdio(ctx, server)
			case "http":
				return mcp.ServeHTTP(ctx, server, addr)
			default:
				return goerr.New("unsupported transport",
					goerr.V("transport", transport),
					goerr.V("supported", []string{"stdio", "http"}))
			}
		},
	}
}
