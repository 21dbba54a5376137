/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/murmurlabs/murmur-engine/internal/logging"
	"go.uber.org/zap"
)

// DownloadProgress is one progress event on a model fetch stream.
type DownloadProgress struct {
	Model    string `json:"model"`
	File     string `json:"file"`
	Received int64  `json:"received"`
	Total    int64  `json:"total"` // -1 when the server does not report a length
}

// Downloader fetches a local model's file set over HTTP. Each file is
// streamed to a temp file and renamed into place, so an interrupted
// download never produces a file the catalog would mistake for complete.
type Downloader struct {
	catalog *Catalog
	client  *http.Client
}

// NewDownloader creates a downloader over the catalog's base directory.
func NewDownloader(catalog *Catalog) *Downloader {
	return &Downloader{
		catalog: catalog,
		client:  &http.Client{Timeout: 30 * time.Minute},
	}
}

// Download fetches all files for the named known model. Progress events are
// sent to progress when non-nil; sends never block, slow consumers just
// miss intermediate events. Cancellation via ctx aborts the transfer and
// leaves no partial files in the model directory.
func (d *Downloader) Download(ctx context.Context, name string, progress chan<- DownloadProgress) error {
	model, ok := d.catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	dir := filepath.Join(d.catalog.BaseDir(), model.Name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	files := []struct {
		url  string
		name string
	}{
		{model.WeightsURL, weightsFileName},
		{model.TokensURL, tokensFileName},
	}

	for _, f := range files {
		dest := filepath.Join(dir, f.name)
		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			continue
		}
		if err := d.fetch(ctx, model.Name, f.url, dest, progress); err != nil {
			return fmt.Errorf("downloading %s: %w", f.name, err)
		}
	}

	logging.LogModelSwitch(LocalModelID(model.Name), string(StateAvailable),
		zap.String("dir", dir))
	return nil
}

func (d *Downloader) fetch(ctx context.Context, model, url, dest string, progress chan<- DownloadProgress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	pw := &progressWriter{
		writer:   f,
		model:    model,
		file:     filepath.Base(dest),
		total:    resp.ContentLength,
		progress: progress,
	}

	_, err = io.Copy(pw, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return nil
}

// progressWriter forwards byte counts to the progress stream as data lands.
type progressWriter struct {
	writer   io.Writer
	model    string
	file     string
	total    int64
	received int64
	progress chan<- DownloadProgress
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.received += int64(n)

	if pw.progress != nil {
		event := DownloadProgress{
			Model:    pw.model,
			File:     pw.file,
			Received: pw.received,
			Total:    pw.total,
		}
		select {
		case pw.progress <- event:
		default:
		}
	}

	return n, err
}
