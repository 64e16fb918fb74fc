package hosting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	logx "lulubot/pkg/logx"
)

var directVideoExts = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".m4v": true, ".3gp": true, ".ts": true,
	".mpeg": true, ".mpg": true,
}

// IsDirectVideoURL reports whether the URL path ends in a video file extension.
func IsDirectVideoURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return directVideoExts[strings.ToLower(path.Ext(u.Path))]
}

// FileNameFromURL returns the last path segment, or fallback.
func FileNameFromURL(raw, fallback string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

// Downloaded is a temporary local copy of a remote resource.
type Downloaded struct {
	Path string
	Size int64
}

func (d *Downloaded) Remove() {
	if d != nil && d.Path != "" {
		_ = os.Remove(d.Path)
	}
}

// Download fetches rawURL into a temp file. The file is removed on failure.
func (c *Client) Download(ctx context.Context, rawURL string) (*Downloaded, error) {
	const op = "download"
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkErr(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, rejectedErr(op, resp.StatusCode, string(b))
	}

	ext := path.Ext(FileNameFromURL(rawURL, ""))
	if ext == "" || len(ext) > 6 {
		ext = ".mp4"
	}
	f, err := os.CreateTemp(c.cfg.TempDir, "lulubot-dl-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, networkErr(op, err)
	}
	c.log.Info("downloaded", logx.String("url", rawURL), logx.String("size", humanize.IBytes(uint64(n))))
	return &Downloaded{Path: f.Name(), Size: n}, nil
}
