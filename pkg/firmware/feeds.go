package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

// BinaryOption is one selectable firmware binary from a feed.
type BinaryOption struct {
	// Name is the display label, e.g. "tasmota.bin [577kB]".
	Name string
	// URL is the OTA download location.
	URL string
	// Filename is the local name the download should be saved under.
	Filename string
	SizeKB   int64
}

type feedImage struct {
	Binary   string `json:"binary"`
	OTAURL   string `json:"otaurl"`
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Filesize int64  `json:"filesize"`
}

// FeedClient fetches and parses the published firmware feeds.
type FeedClient struct {
	client         *http.Client
	releaseURL     string
	developmentURL string
}

// NewFeedClient creates a feed client. A nil http client falls back to
// http.DefaultClient.
func NewFeedClient(client *http.Client, releaseURL, developmentURL string) *FeedClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &FeedClient{client: client, releaseURL: releaseURL, developmentURL: developmentURL}
}

// Release fetches the release feed: a single version key mapping to its
// binaries, e.g. {"release-9.2.0": [{binary, otaurl, filesize}]}.
func (c *FeedClient) Release(ctx context.Context) (string, []BinaryOption, error) {
	raw, err := c.get(ctx, c.releaseURL)
	if err != nil {
		return "", nil, err
	}
	version, options, err := ParseReleaseFeed(raw)
	if err != nil {
		return "", nil, errors.Wrap(err, "parse release feed")
	}
	return version, options, nil
}

// Development fetches the development feed: per-core image lists.
func (c *FeedClient) Development(ctx context.Context) ([]BinaryOption, error) {
	raw, err := c.get(ctx, c.developmentURL)
	if err != nil {
		return nil, err
	}
	options, err := ParseDevelopmentFeed(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse development feed")
	}
	return options, nil
}

func (c *FeedClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build feed request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Reason: "transport error", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: url, Reason: fmt.Sprintf("unexpected status %s", resp.Status)}
	}
	return io.ReadAll(resp.Body)
}

// ParseReleaseFeed decodes the release feed payload. The feed carries a
// single "release-<version>" key; its binaries become options named
// with their size in kB.
func ParseReleaseFeed(raw []byte) (string, []BinaryOption, error) {
	var feed map[string][]feedImage
	if err := json.Unmarshal(raw, &feed); err != nil {
		return "", nil, err
	}
	if len(feed) == 0 {
		return "", nil, fmt.Errorf("empty release feed")
	}

	keys := make([]string, 0, len(feed))
	for k := range feed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	version := strings.TrimPrefix(keys[0], "release-")
	var options []BinaryOption
	for _, img := range feed[keys[0]] {
		sizeKB := img.Filesize / 1024
		options = append(options, BinaryOption{
			Name:     fmt.Sprintf("%s [%dkB]", img.Binary, sizeKB),
			URL:      img.OTAURL,
			Filename: img.Binary,
			SizeKB:   sizeKB,
		})
	}
	if len(options) == 0 {
		return "", nil, fmt.Errorf("release feed has no binaries")
	}
	return version, options, nil
}

// ParseDevelopmentFeed decodes the development feed payload: one outer
// key whose value maps core versions to image lists. Development
// binaries are saved under a name embedding version and commit.
func ParseDevelopmentFeed(raw []byte) ([]BinaryOption, error) {
	var feed map[string]map[string][]feedImage
	if err := json.Unmarshal(raw, &feed); err != nil {
		return nil, err
	}
	if len(feed) == 0 {
		return nil, fmt.Errorf("empty development feed")
	}

	outer := make([]string, 0, len(feed))
	for k := range feed {
		outer = append(outer, k)
	}
	sort.Strings(outer)
	cores := feed[outer[0]]

	coreNames := make([]string, 0, len(cores))
	for k := range cores {
		coreNames = append(coreNames, k)
	}
	sort.Strings(coreNames)

	var options []BinaryOption
	for _, core := range coreNames {
		for _, img := range cores[core] {
			sizeKB := img.Filesize / 1024
			base := strings.TrimSuffix(img.Binary, ".bin")
			options = append(options, BinaryOption{
				Name:     fmt.Sprintf("%s [%s@%s, %s, %dkB]", img.Binary, img.Version, core, img.Commit, sizeKB),
				URL:      img.OTAURL,
				Filename: fmt.Sprintf("%s-dev-%s-%s.bin", base, img.Version, img.Commit),
				SizeKB:   sizeKB,
			})
		}
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("development feed has no binaries")
	}
	return options, nil
}
