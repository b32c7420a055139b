// Package firmware resolves the binary image a flashing run will write:
// either a pre-existing local file or a remote fetch that must complete
// and be flushed to disk before any flashing stage starts.
package firmware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

// Fetcher retrieves a remote image as a finite, non-restartable byte
// stream. total is negative when the server did not report a length.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body io.ReadCloser, total int64, err error)
}

// Source describes where the image bytes come from. A Source resolves
// to exactly one concrete local binary.
type Source struct {
	localPath string
	url       string
	cachePath string
	fetcher   Fetcher

	sha string
}

// LocalSource points at an existing binary on disk.
func LocalSource(path string) *Source {
	return &Source{localPath: path}
}

// RemoteSource downloads from url and persists to cachePath before the
// flashing stages read it.
func RemoteSource(url, cachePath string, fetcher Fetcher) *Source {
	return &Source{url: url, cachePath: cachePath, fetcher: fetcher}
}

// Remote reports whether resolution performs a network fetch.
func (s *Source) Remote() bool { return s.url != "" }

// Ref returns the source's human-readable reference.
func (s *Source) Ref() string {
	if s.Remote() {
		return s.url
	}
	return s.localPath
}

// SHA256 returns the hex digest of the resolved image. Empty before
// Resolve has succeeded.
func (s *Source) SHA256() string { return s.sha }

// Resolve materializes the image and returns its local path. Local
// sources fail fast when unreadable; remote sources stream to a
// temporary file, sync, and rename so a crash mid-fetch never leaves a
// partial image visible to a later run. The resolved file is validated
// as a flashable ESP image before it is handed to the write stage.
func (s *Source) Resolve(ctx context.Context, onProgress func(received, total int64), onLog func(line string)) (string, error) {
	if !s.Remote() {
		return s.resolveLocal()
	}
	return s.resolveRemote(ctx, onProgress, onLog)
}

func (s *Source) resolveLocal() (string, error) {
	f, err := os.Open(s.localPath)
	if err != nil {
		return "", &NotFoundError{Path: s.localPath, Err: err}
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", &NotFoundError{Path: s.localPath, Err: err}
	}
	s.sha = hex.EncodeToString(hash.Sum(nil))

	if err := ValidateImage(s.localPath); err != nil {
		return "", err
	}
	return s.localPath, nil
}

func (s *Source) resolveRemote(ctx context.Context, onProgress func(received, total int64), onLog func(line string)) (string, error) {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}
	if onLog == nil {
		onLog = func(string) {}
	}

	body, total, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0755); err != nil {
		return "", errors.Wrap(err, "create cache directory")
	}

	partial := s.cachePath + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return "", errors.Wrap(err, "create cache file")
	}

	onLog(fmt.Sprintf("downloading %s", s.url))

	hash := sha256.New()
	received, err := s.copyStream(ctx, io.MultiWriter(f, hash), body, total, onProgress, onLog)
	if err != nil {
		f.Close()
		os.Remove(partial)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &FetchError{URL: s.url, Reason: "transfer interrupted", Err: err}
	}
	if received == 0 {
		f.Close()
		os.Remove(partial)
		return "", &FetchError{URL: s.url, Reason: "empty response body"}
	}

	// The image must be durably on disk before any flashing stage reads it.
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(partial)
		return "", errors.Wrap(err, "sync cache file")
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return "", errors.Wrap(err, "close cache file")
	}
	if err := os.Rename(partial, s.cachePath); err != nil {
		os.Remove(partial)
		return "", errors.Wrap(err, "persist cache file")
	}

	s.sha = hex.EncodeToString(hash.Sum(nil))
	slog.Info("image_fetched", "url", s.url, "path", s.cachePath, "bytes", received, "sha256", s.sha[:16])

	if err := ValidateImage(s.cachePath); err != nil {
		return "", err
	}
	return s.cachePath, nil
}

const (
	copyChunkSize = 32 * 1024
	logInterval   = 256 * 1024
)

// copyStream copies the body in chunks, checking for cancellation and
// reporting progress per chunk. With an unknown total only log lines
// are produced, at a bounded rate.
func (s *Source) copyStream(ctx context.Context, dst io.Writer, src io.Reader, total int64, onProgress func(int64, int64), onLog func(string)) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var received, lastLogged int64
	for {
		if err := ctx.Err(); err != nil {
			return received, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return received, werr
			}
			received += int64(n)
			if total > 0 {
				onProgress(received, total)
			} else if received-lastLogged >= logInterval {
				lastLogged = received
				onLog(fmt.Sprintf("downloaded %d KiB", received/1024))
			}
		}
		if err == io.EOF {
			return received, nil
		}
		if err != nil {
			return received, err
		}
	}
}
