// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"os"
	"os/signal"
	"strings"

	"github.com/nlpodyssey/beamflow"
	"github.com/nlpodyssey/beamflow/checkpoint"
	"github.com/nlpodyssey/beamflow/downloader"
	"github.com/nlpodyssey/beamflow/ledger"
	_ "github.com/nlpodyssey/beamflow/models/bow"
	_ "github.com/nlpodyssey/beamflow/models/lookup"
	"github.com/nlpodyssey/beamflow/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "beamflow",
		Usage: "Translate with an ensemble of trained models using beam search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "set log level (trace, debug, info, warn, error, fatal, panic)",
				Action: func(c *cli.Context, s string) error {
					return setDebugLevel(s)
				},
				Value:   "info",
				EnvVars: []string{"BEAMFLOW_LOGLEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "translate",
				Usage:  "Translate data splits and write the hypotheses to files",
				Flags:  append(translateFlags(), decodingFlags()...),
				Action: translate,
			},
			{
				Name:  "convert",
				Usage: "Convert a PyTorch checkpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "PyTorch checkpoint file", Required: true},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output checkpoint file", Required: true},
					&cli.BoolFlag{Name: "overwrite", Usage: "overwrite the output file if it exists"},
					&cli.StringSliceFlag{Name: "override", Usage: "option override as section.key:value"},
				},
				Action: func(c *cli.Context) error {
					log.Debug().Msgf("Converting checkpoint: %s", c.String("in"))
					err := checkpoint.ConvertPyTorch(checkpoint.ConverterConfig{
						InFilename:       c.String("in"),
						OutFilename:      c.String("out"),
						OverwriteIfExist: c.Bool("overwrite"),
						Override:         c.StringSlice("override"),
					})
					if err != nil {
						return err
					}
					log.Debug().Msg("Done.")
					return nil
				},
			},
			{
				Name:  "download",
				Usage: "Download checkpoint and vocabulary files from a model repository",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "repo", Aliases: []string{"r"}, Usage: "repository id, e.g. org/model", Required: true},
					&cli.StringSliceFlag{Name: "files", Aliases: []string{"f"}, Usage: "files to download", Required: true},
					&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "destination directory", Value: "models"},
					&cli.StringFlag{Name: "revision", Usage: "repository revision", Value: downloader.DefaultRevision},
					&cli.StringFlag{Name: "endpoint", Usage: "hub endpoint", Value: downloader.DefaultEndpoint},
					&cli.BoolFlag{Name: "overwrite", Usage: "overwrite existing files"},
					&cli.StringFlag{Name: "access-token", Usage: "access token for private repositories", EnvVars: []string{"HF_TOKEN"}},
				},
				Action: download,
			},
			{
				Name:  "serve",
				Usage: "Serve a gRPC translation endpoint",
				Flags: append([]cli.Flag{
					modelsFlag(),
					&cli.StringFlag{
						Name:  "address",
						Usage: "the address to listen on for gRPC connections",
						Value: ":50051",
					},
					taskFlag(),
					disableFiltersFlag(),
					overrideFlag(),
				}, decodingFlags()...),
				Action: serve,
			},
		},
	}
}

func setDebugLevel(debugLevel string) error {
	level, err := zerolog.ParseLevel(debugLevel)
	if err != nil {
		return err
	}
	log.Logger = log.Level(level)
	return nil
}

// exitOnConfigError maps configuration errors to exit status 1.
func exitOnConfigError(err error) error {
	var ce *beamflow.ConfigError
	if errors.As(err, &ce) {
		return cli.Exit(ce.Error(), 1)
	}
	return err
}

func translate(c *cli.Context) error {
	opts, err := translatorOptions(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	opts.Splits = splitList(c.String("splits"))
	opts.Source = c.String("source")
	opts.Output = c.String("output")
	opts.BatchSize = c.Int("batch-size")

	if fn := c.String("ledger"); fn != "" {
		l, err := ledger.Open(fn)
		if err != nil {
			return err
		}
		defer func() {
			if err := l.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close the ledger")
			}
		}()
		opts.Recorder = l
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	tr, err := beamflow.New(opts)
	if err != nil {
		return exitOnConfigError(err)
	}
	if err := tr.Run(ctx); err != nil {
		return err
	}
	if fn := c.String("metrics-file"); fn != "" {
		if err := tr.Metrics().WriteToTextfile(fn); err != nil {
			return err
		}
	}
	return nil
}

func download(c *cli.Context) error {
	paths, err := downloader.Download(downloader.Config{
		Endpoint:         c.String("endpoint"),
		Repository:       c.String("repo"),
		Revision:         c.String("revision"),
		Files:            c.StringSlice("files"),
		Dir:              c.String("dir"),
		OverwriteIfExist: c.Bool("overwrite"),
		AccessToken:      c.String("access-token"),
	})
	if err != nil {
		return err
	}
	for _, p := range paths {
		log.Info().Str("file", p).Msg("ready")
	}
	return nil
}

func serve(c *cli.Context) error {
	opts, err := translatorOptions(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	log.Debug().Msg("Loading models...")
	tr, err := beamflow.New(opts)
	if err != nil {
		return exitOnConfigError(err)
	}
	return service.NewServer(tr).Start(ctx, c.String("address"))
}

func translatorOptions(c *cli.Context) (beamflow.Options, error) {
	dopts, err := decodingOptions(c)
	if err != nil {
		return beamflow.Options{}, err
	}
	return beamflow.Options{
		Models:         c.StringSlice("models"),
		TaskID:         c.String("task-id"),
		DisableFilters: c.Bool("disable-filters"),
		Override:       c.StringSlice("override"),
		Decoding:       dopts,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
