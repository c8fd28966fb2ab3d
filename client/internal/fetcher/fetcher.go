package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	aderrors "github.com/appdockio/appdock/client/errors"
	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/version"
)

const (
	userAgent         = "AppDock client/%s"
	DefaultRetryDelay = 3 * time.Second

	// UnknownProgress is reported while the total transfer size is unknown.
	UnknownProgress = -1

	// unknownProgressStep spaces out synthetic updates for transfers of
	// unknown size.
	unknownProgressStep = 64 * 1024
)

// Progress receives transfer updates. percent runs 0..100, or
// UnknownProgress while the total size is unknown; completed marks the
// final update of a successful transfer.
type Progress func(read, total int64, percent int, completed bool)

// Fetcher stages package artifacts locally and verifies their digests.
type Fetcher interface {
	Fetch(ctx context.Context, variant catalog.Variant, progress Progress) ([]string, error)
}

// HTTPFetcher downloads artifacts over HTTP into per-version staging slots
// under a shared staging directory.
type HTTPFetcher struct {
	stagingDir string
	retryDelay time.Duration
	client     *http.Client
}

// NewHTTPFetcher creates a fetcher staging artifacts under stagingDir.
func NewHTTPFetcher(stagingDir string) *HTTPFetcher {
	return &HTTPFetcher{
		stagingDir: stagingDir,
		retryDelay: DefaultRetryDelay,
		client:     http.DefaultClient,
	}
}

// Fetch downloads the artifact of variant into its staging slot, reporting
// progress along the way, and verifies the digest before handing the staged
// files back. A corrupt artifact is removed and reported as an error.
func (f *HTTPFetcher) Fetch(ctx context.Context, variant catalog.Variant, progress Progress) ([]string, error) {
	slot := filepath.Join(f.stagingDir, fmt.Sprintf("%s-%d", variant.PackageID, variant.VersionCode))
	if err := os.MkdirAll(slot, 0o755); err != nil {
		return nil, fmt.Errorf("create staging slot: %w", err)
	}

	dstFile := filepath.Join(slot, artifactName(variant))
	written, err := f.downloadToFile(ctx, variant, dstFile, progress)
	if err != nil {
		return nil, err
	}

	if err := verifyDigest(dstFile, variant.SHA256); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, err)
		if rmErr := os.Remove(dstFile); rmErr != nil {
			result = multierror.Append(result, fmt.Errorf("remove corrupt artifact: %w", rmErr))
		}
		return nil, aderrors.FormatErrorOrNil(result)
	}

	if progress != nil {
		progress(written, written, 100, true)
	}

	log.Infof("staged %s %s at %s", variant.PackageID, variant.VersionName, dstFile)
	return []string{dstFile}, nil
}

func (f *HTTPFetcher) downloadToFile(ctx context.Context, variant catalog.Variant, dstFile string, progress Progress) (int64, error) {
	log.Debugf("starting download from %s", variant.DownloadURL)

	out, err := os.Create(dstFile)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file %q: %w", dstFile, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", dstFile, cerr)
		}
	}()

	// First attempt
	written, err := f.downloadOnce(ctx, variant, out, progress)
	if err == nil {
		return written, nil
	}

	// If retryDelay is 0, don't retry
	if f.retryDelay == 0 {
		return 0, err
	}

	log.Warnf("download failed, retrying after %v: %v", f.retryDelay, err)

	if sleepErr := sleepWithContext(ctx, f.retryDelay); sleepErr != nil {
		return 0, fmt.Errorf("download cancelled during retry delay: %w", sleepErr)
	}

	// Truncate file before retry
	if err := out.Truncate(0); err != nil {
		return 0, fmt.Errorf("failed to truncate file on retry: %w", err)
	}
	if _, err := out.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("failed to seek to beginning of file: %w", err)
	}

	// Second attempt
	written, err = f.downloadOnce(ctx, variant, out, progress)
	if err != nil {
		return 0, fmt.Errorf("download failed after retry: %w", err)
	}

	return written, nil
}

func (f *HTTPFetcher) downloadOnce(ctx context.Context, variant catalog.Variant, out *os.File, progress Progress) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, variant.DownloadURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, version.AppDockVersion()))

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = variant.SizeBytes
	}
	tracker := &progressTracker{callback: progress, total: total}

	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("failed to write response body to file: %w", writeErr)
			}
			written += int64(n)
			tracker.advance(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, fmt.Errorf("failed to read response body: %w", readErr)
		}
	}

	return written, nil
}

// progressTracker deduplicates transfer updates: one callback per percent
// point when the total is known, one per unknownProgressStep bytes with the
// UnknownProgress sentinel otherwise.
type progressTracker struct {
	callback    Progress
	total       int64
	written     int64
	lastPercent int
	lastStep    int64
}

func (p *progressTracker) advance(n int) {
	if p.callback == nil {
		return
	}
	p.written += int64(n)

	if p.total <= 0 {
		if step := p.written / unknownProgressStep; step > p.lastStep {
			p.lastStep = step
			p.callback(p.written, 0, UnknownProgress, false)
		}
		return
	}

	percent := int(p.written * 100 / p.total)
	if percent > 100 {
		percent = 100
	}
	if percent != p.lastPercent {
		p.lastPercent = percent
		p.callback(p.written, p.total, percent, false)
	}
}

func verifyDigest(file, wantHex string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Warnf("error closing file %q: %v", file, cerr)
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, wantHex) {
		return fmt.Errorf("artifact digest mismatch: expected %s, got %s", wantHex, got)
	}
	return nil
}

func artifactName(variant catalog.Variant) string {
	if u, err := url.Parse(variant.DownloadURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return variant.PackageID + ".pkg"
}

// CleanStaging removes the staging slots containing the given artifacts,
// typically after their install session completed.
func CleanStaging(files []string) error {
	var result *multierror.Error

	seen := make(map[string]struct{}, len(files))
	for _, file := range files {
		slot := filepath.Dir(file)
		if _, ok := seen[slot]; ok {
			continue
		}
		seen[slot] = struct{}{}
		if err := os.RemoveAll(slot); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove staging slot %s: %w", slot, err))
		}
	}

	return aderrors.FormatErrorOrNil(result)
}

func sleepWithContext(ctx context.Context, duration time.Duration) error {
	select {
	case <-time.After(duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
