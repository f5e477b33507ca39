package firmware

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// createFile opens the temp file a download is written to.
var createFile = func(name string) (io.WriteCloser, error) { return os.Create(name) }

// IsRemote reports whether locator must be downloaded before use.
func IsRemote(locator string) bool {
	return strings.HasPrefix(locator, "https://") || strings.HasPrefix(locator, "http://")
}

// Download fetches a firmware package into a per-URL subdirectory of destDir
// and returns the local path. A non-empty file already downloaded from the
// same URL is reused.
func Download(ctx context.Context, rawURL, destDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("firmware: parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("firmware: url %s has no file name", rawURL)
	}

	dir := filepath.Join(destDir, cacheKey(rawURL))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("firmware: creating cache dir: %w", err)
	}
	destPath := filepath.Join(dir, name)

	// Check if already downloaded
	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		slog.Info("[FW] using cached package", "path", destPath, "bytes", info.Size())
		return destPath, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("firmware: build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("firmware: downloading %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("firmware: download failed: HTTP %d", resp.StatusCode)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := destPath + ".tmp"
	f, err := createFile(tmpPath)
	if err != nil {
		return "", fmt.Errorf("firmware: creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer: f,
		total:  resp.ContentLength,
		label:  name,
	}

	written, err := io.Copy(pw, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("firmware: writing %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("firmware: moving %s: %w", name, err)
	}

	slog.Info("[FW] downloaded package", "path", destPath, "bytes", written)
	return destPath, nil
}

// cacheKey names the cache subdirectory for a URL.
func cacheKey(rawURL string) string {
	sum := blake2b.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:12])
}

// progressWriter wraps an io.Writer and logs download progress every 10%.
type progressWriter struct {
	writer  io.Writer
	total   int64
	written int64
	label   string
	lastPct int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := pw.written * 100 / pw.total
		if pct/10 > pw.lastPct/10 {
			pw.lastPct = pct
			slog.Debug("[FW] download progress", "file", pw.label, "bytes", pw.written, "total", pw.total, "percent", pct)
		}
	}
	return n, err
}
