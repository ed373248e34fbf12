// Package download streams model files into the models directory. A fetch
// writes to a hidden temp file next to the target and renames on completion,
// so the registry never sees a half-written model.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Progress is a point-in-time transfer snapshot. Total is 0 when the server
// did not announce a length.
type Progress struct {
	Downloaded int64
	Total      int64
}

// Pct returns the completed percentage, or -1 when the total is unknown.
func (p Progress) Pct() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Downloaded) / float64(p.Total) * 100
}

// Downloader fetches files over HTTP into a fixed directory.
type Downloader struct {
	client *http.Client
	dir    string
}

// New returns a downloader writing into dir. The HTTP client carries no
// global timeout; model files are large and cancellation comes from the
// request context.
func New(dir string) *Downloader {
	return &Downloader{client: &http.Client{}, dir: dir}
}

// Fetch downloads url to name inside the target directory and returns the
// final path. onProgress, when non-nil, is called after every chunk and once
// at completion. On any failure the partial temp file is removed.
func (d *Downloader) Fetch(ctx context.Context, url, name string, onProgress func(Progress)) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid model file name %q", name)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(d.dir, ".download-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if tmp != nil {
			name := tmp.Name()
			_ = tmp.Close()
			_ = os.Remove(name)
		}
	}()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	w := &progressWriter{dst: tmp, total: total, onProgress: onProgress}
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Prefer the cancellation cause over the transport's wrapping.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
	if err := tmp.Close(); err != nil {
		name := tmp.Name()
		tmp = nil
		_ = os.Remove(name)
		return "", err
	}

	final := filepath.Join(d.dir, name)
	tmpName := tmp.Name()
	tmp = nil
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if onProgress != nil {
		onProgress(Progress{Downloaded: w.n, Total: total})
	}
	return final, nil
}

type progressWriter struct {
	dst        io.Writer
	n          int64
	total      int64
	onProgress func(Progress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.n += int64(n)
	if n > 0 && w.onProgress != nil {
		w.onProgress(Progress{Downloaded: w.n, Total: w.total})
	}
	return n, err
}
