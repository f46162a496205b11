// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/nlpodyssey/beamflow/decoder"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func modelsFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:     "models",
		Aliases:  []string{"m"},
		Usage:    "checkpoint files of the ensemble (repeatable)",
		Required: true,
	}
}

func taskFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "task-id",
		Aliases: []string{"t"},
		Usage:   "task to perform, as a direction such as 'src:Text -> trg:Text'",
	}
}

func disableFiltersFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "disable-filters",
		Aliases: []string{"f"},
		Usage:   "disable the post-processing filters",
	}
}

func overrideFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "override",
		Usage: "checkpoint option override as section.key:value (repeatable)",
	}
}

func translateFlags() []cli.Flag {
	return []cli.Flag{
		modelsFlag(),
		&cli.StringFlag{
			Name:     "splits",
			Aliases:  []string{"s"},
			Usage:    "comma-separated list of splits to translate",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "source",
			Aliases: []string{"S"},
			Usage:   "comma-separated key:path input files replacing the single split",
		},
		taskFlag(),
		disableFiltersFlag(),
		overrideFlag(),
		&cli.StringFlag{
			Name:     "output",
			Aliases:  []string{"o"},
			Usage:    "output file prefix",
			Required: true,
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Aliases: []string{"b"},
			Usage:   "number of sentences decoded together",
			Value:   16,
		},
		&cli.StringFlag{
			Name:  "ledger",
			Usage: "SQLite database recording the translated splits",
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "write the throughput metrics to this file in the Prometheus text format",
		},
	}
}

func decodingFlags() []cli.Flag {
	def := decoder.DefaultDecodingOptions()
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML file with the decoding options; flags given explicitly take precedence",
		},
		&cli.IntFlag{
			Name:    "beam-size",
			Aliases: []string{"k"},
			Usage:   "beam size",
			Value:   def.BeamSize,
		},
		&cli.IntFlag{
			Name:    "max-len",
			Aliases: []string{"l"},
			Usage:   "maximum output length",
			Value:   def.MaxLen,
		},
		&cli.Float64Flag{
			Name:    "lp-alpha",
			Aliases: []string{"a"},
			Usage:   "length penalty exponent (0 disables normalization)",
			Value:   def.LPAlpha,
		},
		&cli.BoolFlag{
			Name:    "suppress-unk",
			Aliases: []string{"u"},
			Usage:   "never generate the unknown token",
		},
		&cli.BoolFlag{
			Name:    "n-best",
			Aliases: []string{"N"},
			Usage:   "write every completed hypothesis with its score",
		},
		&cli.IntFlag{
			Name:  "wait-k",
			Usage: "simultaneous translation: wait for k source tokens before each output token (0 disables)",
		},
		&cli.StringFlag{
			Name:  "policy",
			Usage: "beam replenishment policy (shrink, replenish)",
			Value: string(def.Policy),
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "concurrent model queries within a decoding step",
			Value: def.Workers,
		},
	}
}

// decodingOptions merges the defaults, the optional configuration file and
// the explicitly set flags, in this order.
func decodingOptions(c *cli.Context) (decoder.DecodingOptions, error) {
	opts := decoder.DefaultDecodingOptions()
	if fn := c.String("config"); fn != "" {
		var err error
		if opts, err = decodingOptionsFromFile(fn, opts); err != nil {
			return decoder.DecodingOptions{}, err
		}
	}

	if c.IsSet("beam-size") {
		opts.BeamSize = c.Int("beam-size")
	}
	if c.IsSet("max-len") {
		opts.MaxLen = c.Int("max-len")
	}
	if c.IsSet("lp-alpha") {
		opts.LPAlpha = c.Float64("lp-alpha")
	}
	if c.IsSet("suppress-unk") {
		opts.SuppressUnk = c.Bool("suppress-unk")
	}
	if c.IsSet("n-best") {
		opts.NBest = c.Bool("n-best")
	}
	if c.IsSet("wait-k") {
		opts.WaitK = c.Int("wait-k")
	}
	if c.IsSet("policy") {
		opts.Policy = decoder.Policy(c.String("policy"))
	}
	if c.IsSet("workers") {
		opts.Workers = c.Int("workers")
	}
	if err := opts.Validate(); err != nil {
		return decoder.DecodingOptions{}, err
	}
	return opts, nil
}

func decodingOptionsFromFile(filepath string, base decoder.DecodingOptions) (decoder.DecodingOptions, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return decoder.DecodingOptions{}, fmt.Errorf("error reading configuration file: %w", err)
	}
	opts := base
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return decoder.DecodingOptions{}, fmt.Errorf("error unmarshaling configuration file: %w", err)
	}
	return opts, nil
}
