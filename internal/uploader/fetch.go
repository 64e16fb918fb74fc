package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lulubot/internal/queue"
	"lulubot/internal/transport"
)

// fetchToTemp downloads the item's platform file into a private temp dir,
// keeping the original file name so the host sees it. cleanup removes the
// dir and is safe to call on every path.
func fetchToTemp(ctx context.Context, files transport.FileFetcher, baseDir string, it *queue.Item) (string, func(), error) {
	dir, err := os.MkdirTemp(baseDir, "lulubot-up-")
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, safeFileName(it.FileName, it.ID))
	f, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	_, err = files.FetchFile(ctx, it.FileID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("fetch platform file: %w", err)
	}
	return path, cleanup, nil
}

// fetchFile streams fileID into a new file in dir named after pattern
// (see os.CreateTemp). A partial file is removed on error.
func fetchFile(ctx context.Context, files transport.FileFetcher, dir, pattern, fileID string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	_, err = files.FetchFile(ctx, fileID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func safeFileName(name, id string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "video_" + id + ".mp4"
	}
	return name
}
