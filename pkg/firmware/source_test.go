package firmware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// validImage builds a payload carrying the ESP magic byte.
func validImage(size int) []byte {
	img := make([]byte, size)
	img[0] = 0xE9
	for i := 1; i < size; i++ {
		img[i] = byte(i)
	}
	return img
}

func writeTempImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fw.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write temp image: %v", err)
	}
	return path
}

func TestLocalSource_Resolve(t *testing.T) {
	path := writeTempImage(t, validImage(1024))
	src := LocalSource(path)

	got, err := src.Resolve(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != path {
		t.Errorf("resolved path = %q, want %q", got, path)
	}
	if len(src.SHA256()) != 64 {
		t.Errorf("sha256 = %q, want 64 hex chars", src.SHA256())
	}
}

func TestLocalSource_Missing(t *testing.T) {
	src := LocalSource(filepath.Join(t.TempDir(), "nope.bin"))

	_, err := src.Resolve(context.Background(), nil, nil)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestRemoteSource_ResolveWithKnownLength(t *testing.T) {
	payload := validImage(64 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	cachePath := filepath.Join(t.TempDir(), "cache", "fw.bin")
	src := RemoteSource(srv.URL+"/fw.bin", cachePath, NewHTTPFetcher(nil))

	var lastReceived, lastTotal int64
	got, err := src.Resolve(context.Background(), func(received, total int64) {
		lastReceived, lastTotal = received, total
	}, nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != cachePath {
		t.Errorf("resolved path = %q, want cache path %q", got, cachePath)
	}
	if lastReceived != int64(len(payload)) || lastTotal != int64(len(payload)) {
		t.Errorf("final progress = %d/%d, want %d/%d", lastReceived, lastTotal, len(payload), len(payload))
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("cached bytes differ from served payload")
	}
	// No partial file left behind.
	if _, err := os.Stat(cachePath + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file survived a successful fetch")
	}
}

func TestRemoteSource_UnknownLengthLogsInsteadOfPercent(t *testing.T) {
	payload := validImage(600 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked response: no Content-Length.
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		w.Write(payload[:len(payload)/2])
		flusher.Flush()
		w.Write(payload[len(payload)/2:])
	}))
	defer srv.Close()

	cachePath := filepath.Join(t.TempDir(), "fw.bin")
	src := RemoteSource(srv.URL, cachePath, NewHTTPFetcher(nil))

	progressCalls := 0
	var logs []string
	_, err := src.Resolve(context.Background(),
		func(received, total int64) { progressCalls++ },
		func(line string) { logs = append(logs, line) })
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if progressCalls != 0 {
		t.Errorf("got %d percent callbacks with unknown length, want 0", progressCalls)
	}
	// 600 KiB at a 256 KiB log interval gives at least two transfer lines
	// after the initial "downloading" line.
	if len(logs) < 3 {
		t.Errorf("got %d log lines, want at least 3: %v", len(logs), logs)
	}
}

func TestRemoteSource_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src := RemoteSource(srv.URL, filepath.Join(t.TempDir(), "fw.bin"), NewHTTPFetcher(nil))

	_, err := src.Resolve(context.Background(), nil, nil)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
}

func TestRemoteSource_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
	}))
	defer srv.Close()

	src := RemoteSource(srv.URL, filepath.Join(t.TempDir(), "fw.bin"), NewHTTPFetcher(nil))

	_, err := src.Resolve(context.Background(), nil, nil)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
}

func TestRemoteSource_CancelledContext(t *testing.T) {
	payload := validImage(1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := RemoteSource(srv.URL, filepath.Join(t.TempDir(), "fw.bin"), NewHTTPFetcher(nil))
	_, err := src.Resolve(ctx, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestIsS3URL(t *testing.T) {
	if !IsS3URL("s3://bucket/key/fw.bin") {
		t.Error("s3 URL not recognized")
	}
	if IsS3URL("https://example.com/fw.bin") {
		t.Error("https URL misclassified as s3")
	}
}
