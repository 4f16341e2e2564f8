package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kvrun/internal/api"
	"github.com/samcharles93/kvrun/internal/inference"
	"github.com/samcharles93/kvrun/internal/logger"
	"github.com/samcharles93/kvrun/internal/metrics"
	"github.com/samcharles93/kvrun/internal/tokenizer"
)

func serveCmd() *cli.Command {
	var (
		mo          modelOptions
		addr        string
		readTimeout time.Duration
		genLen      int64
		ctxLen      int64
		stopPolicy  string
		padToken    int64
		storeSize   int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve generation over HTTP",
		Flags: append(mo.flags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "gen-len",
				Usage:       "default tokens to generate per sequence",
				Value:       32,
				Destination: &genLen,
			},
			&cli.Int64Flag{
				Name:        "ctx-len",
				Usage:       "context length bound (0: value recorded in the binary, if any)",
				Destination: &ctxLen,
			},
			&cli.StringFlag{
				Name:        "stop-policy",
				Usage:       "default stop policy (any, all, sequence)",
				Value:       "any",
				Destination: &stopPolicy,
			},
			&cli.Int64Flag{
				Name:        "pad-token",
				Usage:       "token id used to pad the last prompt chunk",
				Destination: &padToken,
			},
			&cli.Int64Flag{
				Name:        "keep",
				Usage:       "number of finished generations kept for lookup",
				Value:       256,
				Destination: &storeSize,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, config, &mo)
			applyServeConfig(cmd, config, &addr, &stopPolicy)
			if mo.model == "" {
				mo.model = cmd.Args().First()
			}
			log := logger.FromContext(ctx)

			policy, err := inference.ParseStopPolicy(stopPolicy)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			m := metrics.New()
			model, err := openModel(ctx, mo, inference.WithMetrics(m))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() {
				if cerr := model.Close(); cerr != nil {
					log.Warn("close model", "error", cerr)
				}
			}()

			md := model.file.Metadata()
			defaults := api.Defaults{
				GenLen:     int(genLen),
				CtxLen:     int(ctxLen),
				StopPolicy: policy,
				PadToken:   padToken,
			}
			if defaults.CtxLen == 0 {
				defaults.CtxLen = md.ContextLength
			}
			if id, ok := tokenizer.ResolveEOS(nil, md.EOSTokenID, model.vocab); ok {
				defaults.EOS = &id
			}

			service := api.NewDriverService(model.driver, defaults)
			server := api.NewServer(api.NewGenerationStore(int(storeSize)), service,
				api.WithServerMetrics(m),
				api.WithServerLogger(log),
			)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
