package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Downloader fetches listing images over HTTP. Retries live here, on
// the scraper side of the boundary; the merge/dedup core never retries
// network operations.
type Downloader struct {
	client *retryablehttp.Client
	log    *logrus.Logger
}

// NewDownloader creates a Downloader with a small retry budget.
func NewDownloader(log *logrus.Logger) *Downloader {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Downloader{client: client, log: log}
}

// Download fetches rawURL into dir and returns the file name written.
func (d *Downloader) Download(ctx context.Context, rawURL, dir string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fileNameFor(rawURL)
	target := filepath.Join(dir, name)

	// Same original URL means same file name; no need to re-download.
	if _, err := os.Stat(target); err == nil {
		return name, nil
	}

	tmp := target + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return name, nil
}

// fileNameFor derives a safe, stable file name from an image URL.
func fileNameFor(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	prefix := hex.EncodeToString(sum[:])[:10]

	ext := ".jpg"
	if u, err := url.Parse(rawURL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return prefix + ext
}
