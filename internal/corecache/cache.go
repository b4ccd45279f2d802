// Package corecache manages on-disk converter executables (mihomo, sing-box),
// downloaded on demand from GitHub releases and shared across requests.
package corecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// CoreSpec describes where one converter binary comes from.
type CoreSpec struct {
	Name         string // binary name on disk and inside archives
	ReleaseAPI   string // GitHub "releases/latest" endpoint
	AssetKeyword string // lowercase substring selecting the right asset
}

var defaultSpecs = map[string]CoreSpec{
	"mihomo": {
		Name:         "mihomo",
		ReleaseAPI:   "https://api.github.com/repos/MetaCubeX/mihomo/releases/latest",
		AssetKeyword: "mihomo",
	},
	"sing-box": {
		Name:         "sing-box",
		ReleaseAPI:   "https://api.github.com/repos/SagerNet/sing-box/releases/latest",
		AssetKeyword: "sing-box",
	},
}

// Entry is a Ready cache entry. Callers treat Path as read-only.
type Entry struct {
	Path     string
	Version  string
	Checksum string // hex sha256 of the binary
}

type CacheError struct {
	AppError model.AppError
	Cause    error
}

func (e *CacheError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *CacheError) Unwrap() error { return e.Cause }

// Cache is the process-wide binary cache. All mutation is serialized per
// (name, version) key via singleflight; Ready entries are plain files that
// need no lock to read.
type Cache struct {
	dir      string
	specs    map[string]CoreSpec
	gh       *githubClient
	sf       singleflight.Group
	releases *gocache.Cache // release metadata, keyed by core name
}

type Options struct {
	Dir        string
	Token      string        // optional GitHub token, avoids API rate limits
	ReleaseTTL time.Duration // default 1h
	Specs      map[string]CoreSpec
}

func New(opt Options) *Cache {
	if opt.ReleaseTTL <= 0 {
		opt.ReleaseTTL = time.Hour
	}
	specs := opt.Specs
	if specs == nil {
		specs = defaultSpecs
	}
	return &Cache{
		dir:      opt.Dir,
		specs:    specs,
		gh:       newGithubClient(opt.Token),
		releases: gocache.New(opt.ReleaseTTL, 10*time.Minute),
	}
}

// Names lists the configured core names.
func (c *Cache) Names() []string {
	out := make([]string, 0, len(c.specs))
	for name := range c.specs {
		out = append(out, name)
	}
	return out
}

// Get returns a Ready entry for the named core, downloading it first if
// needed. Concurrent callers for the same key share one in-flight download.
// Failures are not remembered: the next demand retries.
func (c *Cache) Get(ctx context.Context, name string) (Entry, error) {
	spec, ok := c.specs[name]
	if !ok {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", fmt.Sprintf("未知的转换内核：%s", name), nil)
	}

	rel, err := c.latestRelease(ctx, spec)
	if err != nil {
		return Entry{}, err
	}

	key := fmt.Sprintf("%s-%s-%s-%s", spec.Name, runtime.GOOS, runtime.GOARCH, rel.TagName)
	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.ensure(ctx, spec, rel, key)
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Clear wipes the cache directory. The next Get re-downloads.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return err
		}
	}
	c.releases.Flush()
	return nil
}

func (c *Cache) latestRelease(ctx context.Context, spec CoreSpec) (*release, error) {
	if v, ok := c.releases.Get(spec.Name); ok {
		return v.(*release), nil
	}
	rel, err := c.gh.latestRelease(ctx, spec.ReleaseAPI)
	if err != nil {
		return nil, cacheErr("CORE_DOWNLOAD_FAILED", fmt.Sprintf("获取 %s 最新版本信息失败", spec.Name), err)
	}
	c.releases.SetDefault(spec.Name, rel)
	return rel, nil
}

// ensure runs inside singleflight for one (name, version) key.
func (c *Cache) ensure(ctx context.Context, spec CoreSpec, rel *release, key string) (Entry, error) {
	entryDir := filepath.Join(c.dir, key)
	binPath := filepath.Join(entryDir, spec.Name)

	if sum, err := verifyExisting(binPath); err == nil {
		return Entry{Path: binPath, Version: rel.TagName, Checksum: sum}, nil
	} else if !os.IsNotExist(err) {
		// Corrupted entry: drop it and re-download.
		log.Printf("corecache: %v, re-downloading %s", err, key)
		_ = os.RemoveAll(entryDir)
	}

	asset, checksumURL, err := pickAsset(rel, spec.AssetKeyword)
	if err != nil {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", fmt.Sprintf("没有适用于 %s/%s 的 %s 构建", runtime.GOOS, runtime.GOARCH, spec.Name), err)
	}
	expectedSum := ""
	if checksumURL != "" {
		expectedSum, err = c.gh.resolveChecksum(ctx, checksumURL, asset.Name)
		if err != nil {
			// A broken checksum companion should not block the download; the
			// computed sum is still recorded and re-verified on reuse.
			log.Printf("corecache: checksum file for %s unusable: %v", asset.Name, err)
			expectedSum = ""
		}
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", "创建内核缓存目录失败", err)
	}

	// Stage into a temp dir next to the final location so the promote is an
	// atomic rename on the same filesystem.
	staging, err := os.MkdirTemp(c.dir, key+".tmp-")
	if err != nil {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", "创建内核缓存目录失败", err)
	}
	defer os.RemoveAll(staging)

	archivePath := filepath.Join(staging, asset.Name)
	log.Printf("corecache: downloading %s %s (%s)", spec.Name, rel.TagName, asset.Name)
	if err := c.gh.download(ctx, asset.BrowserDownloadURL, archivePath); err != nil {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", fmt.Sprintf("下载 %s 失败", spec.Name), err)
	}

	if expectedSum != "" {
		sum, err := fileSHA256(archivePath)
		if err != nil {
			return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", "计算下载文件校验和失败", err)
		}
		if !strings.EqualFold(sum, expectedSum) {
			return Entry{}, cacheErr("CORE_CHECKSUM_MISMATCH", fmt.Sprintf("%s 下载校验和不匹配", spec.Name), nil)
		}
	}

	stagedBin := filepath.Join(staging, "bin", spec.Name)
	if err := extractBinary(archivePath, asset.Name, spec.Name, stagedBin); err != nil {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", fmt.Sprintf("解压 %s 失败", spec.Name), err)
	}
	if err := os.Chmod(stagedBin, 0o755); err != nil {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", "设置内核可执行权限失败", err)
	}

	sum, err := fileSHA256(stagedBin)
	if err != nil {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", "计算内核校验和失败", err)
	}
	if err := os.WriteFile(stagedBin+".sha256", []byte(sum+"\n"), 0o644); err != nil {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", "写入内核校验和失败", err)
	}
	_ = os.Remove(archivePath)

	// Promote: replace any previous entry dir in one rename.
	_ = os.RemoveAll(entryDir)
	if err := os.Rename(filepath.Join(staging, "bin"), entryDir); err != nil {
		return Entry{}, cacheErr("CORE_DOWNLOAD_FAILED", "安装内核失败", err)
	}

	log.Printf("corecache: %s %s ready", spec.Name, rel.TagName)
	return Entry{Path: binPath, Version: rel.TagName, Checksum: sum}, nil
}

// verifyExisting re-checks a cached binary against its recorded checksum.
// Returns os.ErrNotExist style errors when the entry is simply absent.
func verifyExisting(binPath string) (string, error) {
	if _, err := os.Stat(binPath); err != nil {
		return "", err
	}
	recorded, err := os.ReadFile(binPath + ".sha256")
	if err != nil {
		return "", err
	}
	want := strings.TrimSpace(string(recorded))
	got, err := fileSHA256(binPath)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(got, want) {
		return "", fmt.Errorf("cached binary %s checksum mismatch", filepath.Base(binPath))
	}
	return got, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func cacheErr(code, message string, cause error) error {
	return &CacheError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "core_cache",
		},
		Cause: cause,
	}
}
