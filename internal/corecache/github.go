package corecache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type release struct {
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type githubClient struct {
	client *resty.Client
}

func newGithubClient(token string) *githubClient {
	c := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/vnd.github+json")
	if token != "" {
		c.SetAuthScheme("token").SetAuthToken(token)
	}
	return &githubClient{client: c}
}

func (g *githubClient) latestRelease(ctx context.Context, apiURL string) (*release, error) {
	var rel release
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&rel).
		Get(apiURL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("github api status %d", resp.StatusCode())
	}
	if rel.TagName == "" {
		return nil, errors.New("release has no tag_name")
	}
	return &rel, nil
}

// download writes the asset to destPath. Release asset downloads don't need
// auth; the token only matters for api.github.com metadata.
func (g *githubClient) download(ctx context.Context, url, destPath string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetOutput(destPath).
		Get(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		_ = os.Remove(destPath)
		return fmt.Errorf("asset download status %d", resp.StatusCode())
	}
	return nil
}

// pickAsset selects the release asset for this platform and, when the release
// publishes a checksum file covering it, the expected hex sha256.
func pickAsset(rel *release, keyword string) (asset, string, error) {
	goarch := runtime.GOARCH
	goos := runtime.GOOS

	var chosen *asset
	for i := range rel.Assets {
		name := strings.ToLower(rel.Assets[i].Name)
		if !strings.Contains(name, keyword) || !strings.Contains(name, goos) || !strings.Contains(name, goarch) {
			continue
		}
		// Skip companion files (signatures, per-asset checksums).
		if strings.HasSuffix(name, ".sha256") || strings.HasSuffix(name, ".sig") || strings.HasSuffix(name, ".asc") {
			continue
		}
		chosen = &rel.Assets[i]
		break
	}
	if chosen == nil {
		return asset{}, "", fmt.Errorf("no asset matches keyword=%q goos=%q goarch=%q", keyword, goos, goarch)
	}
	return *chosen, findChecksum(rel, chosen.Name), nil
}

// findChecksum looks for the asset's sum in a "<asset>.sha256" companion or a
// release-wide checksums file. Empty string when the release publishes none.
func findChecksum(rel *release, assetName string) string {
	for _, a := range rel.Assets {
		lower := strings.ToLower(a.Name)
		if lower != strings.ToLower(assetName)+".sha256" && !strings.Contains(lower, "checksum") {
			continue
		}
		// The caller fetches and parses it via resolveChecksum.
		return a.BrowserDownloadURL
	}
	return ""
}

// resolveChecksum downloads a checksum asset and extracts the hex digest for
// assetName. Supports both "digest  filename" lists and bare-digest files.
func (g *githubClient) resolveChecksum(ctx context.Context, url, assetName string) (string, error) {
	resp, err := g.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("checksum download status %d", resp.StatusCode())
	}

	sc := bufio.NewScanner(strings.NewReader(resp.String()))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		switch {
		case len(fields) == 1 && isHexDigest(fields[0]):
			return fields[0], nil
		case len(fields) >= 2 && isHexDigest(fields[0]) &&
			strings.EqualFold(strings.TrimPrefix(fields[len(fields)-1], "*"), assetName):
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("no digest for %s in checksum file", assetName)
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}
