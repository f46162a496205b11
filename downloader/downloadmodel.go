// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package downloader

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultEndpoint is the Hugging Face hub. Files are fetched from
	// "{endpoint}/{repository}/resolve/{revision}/{filename}".
	DefaultEndpoint = "https://huggingface.co"
	// DefaultRevision is the branch files are fetched from.
	DefaultRevision = "main"
)

// Config describes the files to fetch from a model repository.
type Config struct {
	// Endpoint defaults to DefaultEndpoint.
	Endpoint string
	// Repository is the repository id, e.g. "org/model".
	Repository string
	// Revision defaults to DefaultRevision.
	Revision string
	// Files are the checkpoint and vocabulary files to fetch.
	Files []string
	// Dir is the destination directory. A subdirectory named after the
	// repository is created inside it.
	Dir string
	// OverwriteIfExist forces the download of files that already exist.
	OverwriteIfExist bool
	// AccessToken, when set, is sent as a bearer token.
	AccessToken string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Download fetches the files of a model repository, returning the local
// paths in the same order as Config.Files.
//
// If one or more directory levels don't yet exist, they are created
// setting the permissions bits to 0755 (rwxr-xr-x).
func Download(c Config) ([]string, error) {
	if c.Repository == "" {
		return nil, errors.New("missing repository")
	}
	if len(c.Files) == 0 {
		return nil, errors.New("no files to download")
	}
	d := downloader{Config: c, dest: filepath.Join(c.Dir, filepath.FromSlash(c.Repository))}
	if d.Endpoint == "" {
		d.Endpoint = DefaultEndpoint
	}
	if d.Revision == "" {
		d.Revision = DefaultRevision
	}
	if d.Client == nil {
		d.Client = http.DefaultClient
	}
	return d.download()
}

type downloader struct {
	Config
	dest string
}

func (d downloader) download() ([]string, error) {
	if err := d.ensureDest(); err != nil {
		return nil, err
	}
	paths := make([]string, len(d.Files))
	for i, name := range d.Files {
		p, err := d.downloadFile(name)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}
	return paths, nil
}

func (d downloader) ensureDest() error {
	if info, err := os.Stat(d.dest); err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(d.dest, 0755); err != nil {
		return fmt.Errorf("error creating destination path %#v: %w", d.dest, err)
	}
	return nil
}

func (d downloader) downloadFile(name string) (_ string, err error) {
	fPath := filepath.Join(d.dest, filepath.Base(name))
	if info, err := os.Stat(fPath); !d.OverwriteIfExist && err == nil && !info.IsDir() {
		log.Debug().Str("file", fPath).Msg("file already exists, skipping download")
		return fPath, nil
	}

	url := d.fileURL(name)
	log.Debug().Str("url", url).Str("destination", fPath).Msg("downloading")

	resp, err := d.httpGet(url)
	if err != nil {
		return "", fmt.Errorf("error getting %#v: %w", url, err)
	}
	defer func() {
		if e := resp.Body.Close(); e != nil && err == nil {
			err = fmt.Errorf("error closing %#v response body: %w", url, e)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%#v responded with %s", url, resp.Status)
	}

	// Existing files are skipped, so partial transfers must not be left at fPath.
	tmp := fPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("error creating file %#v: %w", tmp, err)
	}
	n, err := io.Copy(f, resp.Body)
	if e := f.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("error downloading %#v to %#v: %w", url, fPath, err)
	}
	if err := os.Rename(tmp, fPath); err != nil {
		return "", err
	}
	log.Debug().Str("file", fPath).Int64("bytes", n).Msg("downloaded")
	return fPath, nil
}

func (d downloader) httpGet(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if d.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.AccessToken)
	}
	return d.Client.Do(req)
}

func (d downloader) fileURL(name string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimSuffix(d.Endpoint, "/"), d.Repository, d.Revision, name)
}
