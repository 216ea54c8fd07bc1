package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/server"
	"github.com/m-mizutani/ragnote/pkg/service/auth"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// authFlags returns flags for bearer token verification
func authFlags(secret, issuer *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "jwt-secret",
			Usage:       "HMAC secret to verify bearer tokens",
			Sources:     cli.EnvVars("RAGNOTE_JWT_SECRET"),
			Destination: secret,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "jwt-issuer",
			Usage:       "Required iss claim of bearer tokens",
			Sources:     cli.EnvVars("RAGNOTE_JWT_ISSUER"),
			Destination: issuer,
		},
	}
}

func newResolver(secret, issuer string) (*auth.JWT, error) {
	var opts []auth.Option
	if issuer != "" {
		opts = append(opts, auth.WithIssuer(issuer))
	}
	resolver, err := auth.NewJWT(secret, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create token resolver")
	}
	return resolver, nil
}

func serveCommand() *cli.Command {
	var (
		cfg       config
		addr      string
		jwtSecret string
		jwtIssuer string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       ":8080",
			Sources:     cli.EnvVars("RAGNOTE_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, authFlags(&jwtSecret, &jwtIssuer)...)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, policyFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the chat HTTP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			resolver, err := newResolver(jwtSecret, jwtIssuer)
			if err != nil {
				return err
			}

			a, err := cfg.newApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logging.From(ctx).Info("starting server",
				"backend", cfg.backend,
				"model", a.settings.GenerativeModel,
				"score_threshold", a.settings.ScoreThreshold,
				"max_steps", a.settings.MaxSteps,
			)

			gin.SetMode(gin.ReleaseMode)
			srv := server.New(server.SessionFactory(a.gemini, a.notes, a.settings), resolver)
			return srv.Run(ctx, addr)
		},
	}
}

func tokenCommand() *cli.Command {
	var (
		owner     string
		ttl       time.Duration
		jwtSecret string
		jwtIssuer string
	)

	flags := []cli.Flag{
		ownerFlag(&owner),
		&cli.DurationFlag{
			Name:        "ttl",
			Usage:       "Token lifetime",
			Value:       24 * time.Hour,
			Destination: &ttl,
		},
	}
	flags = append(flags, authFlags(&jwtSecret, &jwtIssuer)...)

	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for an owner",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			resolver, err := newResolver(jwtSecret, jwtIssuer)
			if err != nil {
				return err
			}

			token, err := resolver.Issue(model.OwnerID(owner), ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(c.Root().Writer, token)
			return nil
		},
	}
}
