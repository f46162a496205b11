// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/beamflow"
	"github.com/nlpodyssey/beamflow/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// parseDecoding runs a throwaway app with the decoding flags and returns
// the resulting options.
func parseDecoding(t *testing.T, args ...string) (decoder.DecodingOptions, error) {
	t.Helper()
	var (
		opts   decoder.DecodingOptions
		optErr error
	)
	app := &cli.App{
		Flags: decodingFlags(),
		Action: func(c *cli.Context) error {
			opts, optErr = decodingOptions(c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return opts, optErr
}

func TestDecodingOptionsDefaults(t *testing.T) {
	opts, err := parseDecoding(t)
	require.NoError(t, err)
	assert.Equal(t, decoder.DefaultDecodingOptions(), opts)
}

func TestDecodingOptionsPrecedence(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "decoding.yaml")
	require.NoError(t, os.WriteFile(fn, []byte("beam_size: 4\nlp_alpha: 0.6\nwait_k: 3\npolicy: replenish\n"), 0o644))

	opts, err := parseDecoding(t, "--config", fn, "-k", "6", "-u")
	require.NoError(t, err)
	assert.Equal(t, 6, opts.BeamSize)
	assert.Equal(t, 0.6, opts.LPAlpha)
	assert.Equal(t, 3, opts.WaitK)
	assert.Equal(t, decoder.Replenish, opts.Policy)
	assert.True(t, opts.SuppressUnk)
	assert.Equal(t, decoder.DefaultDecodingOptions().MaxLen, opts.MaxLen)
}

func TestDecodingOptionsInvalid(t *testing.T) {
	_, err := parseDecoding(t, "--policy", "grow")
	assert.Error(t, err)

	_, err = parseDecoding(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"val", "test"}, splitList("val, test,"))
	assert.Nil(t, splitList(""))
}

func TestAppCommands(t *testing.T) {
	app := newApp()
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"translate", "convert", "download", "serve"}, names)
}

func TestExitOnConfigError(t *testing.T) {
	cfgErr := fmt.Errorf("loading: %w", &beamflow.ConfigError{Check: beamflow.CheckTopology, Err: beamflow.ErrTopology})
	err := exitOnConfigError(cfgErr)
	var exit cli.ExitCoder
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 1, exit.ExitCode())
	assert.Contains(t, exit.Error(), beamflow.CheckTopology)

	other := errors.New("disk full")
	assert.Same(t, other, exitOnConfigError(other))
}
