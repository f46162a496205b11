// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package downloader

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHub(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	files := map[string]string{
		"/org/nmt/resolve/main/model.bin": "weights",
		"/org/nmt/resolve/main/de.json":   `{"<pad>": 0}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path == "/org/nmt/resolve/main/secret.bin" && r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/org/nmt/resolve/main/secret.bin" {
			_, _ = w.Write([]byte("secret"))
			return
		}
		content, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	var hits int32
	srv := newHub(t, &hits)
	dir := t.TempDir()

	c := Config{
		Endpoint:   srv.URL,
		Repository: "org/nmt",
		Files:      []string{"model.bin", "de.json"},
		Dir:        dir,
	}
	paths, err := Download(c)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "org", "nmt", "model.bin"), paths[0])

	b, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "weights", string(b))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	t.Run("existing files are skipped", func(t *testing.T) {
		_, err := Download(c)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})

	t.Run("overwrite", func(t *testing.T) {
		c := c
		c.OverwriteIfExist = true
		_, err := Download(c)
		require.NoError(t, err)
		assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
	})
}

func TestDownloadErrors(t *testing.T) {
	var hits int32
	srv := newHub(t, &hits)
	dir := t.TempDir()

	_, err := Download(Config{Endpoint: srv.URL, Repository: "org/nmt", Files: []string{"missing.bin"}, Dir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	_, statErr := os.Stat(filepath.Join(dir, "org", "nmt", "missing.bin"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = Download(Config{Endpoint: srv.URL, Files: []string{"model.bin"}, Dir: dir})
	assert.Error(t, err)
	_, err = Download(Config{Endpoint: srv.URL, Repository: "org/nmt", Dir: dir})
	assert.Error(t, err)
}

func TestDownloadAccessToken(t *testing.T) {
	var hits int32
	srv := newHub(t, &hits)
	c := Config{Endpoint: srv.URL, Repository: "org/nmt", Files: []string{"secret.bin"}, Dir: t.TempDir()}

	_, err := Download(c)
	require.Error(t, err)

	c.AccessToken = "tok"
	paths, err := Download(c)
	require.NoError(t, err)
	b, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "secret", string(b))
}
