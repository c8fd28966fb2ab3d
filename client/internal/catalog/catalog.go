package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultChannel is the release channel used when a package has no explicit
// channel preference, and the fallback when the preferred channel publishes
// no variant.
const DefaultChannel = "stable"

// Variant describes one downloadable build of a package on a specific
// release channel. Variants are immutable once fetched.
type Variant struct {
	PackageID   string `json:"packageId"`
	Name        string `json:"name"`
	Channel     string `json:"channel"`
	VersionCode int64  `json:"versionCode"`
	VersionName string `json:"versionName"`
	SHA256      string `json:"sha256"`
	DownloadURL string `json:"downloadUrl"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// DisplayName returns the human readable package name, falling back to the
// package id when the publisher did not set one.
func (v Variant) DisplayName() string {
	if v.Name != "" {
		return v.Name
	}
	return v.PackageID
}

func (v *Variant) validate() error {
	if v.Channel == "" {
		return fmt.Errorf("variant %s has no channel", v.VersionName)
	}
	if v.VersionCode <= 0 {
		return fmt.Errorf("variant %s/%s has non-positive version code %d", v.Channel, v.VersionName, v.VersionCode)
	}
	if len(v.SHA256) != sha256.Size*2 {
		return fmt.Errorf("variant %s/%s has a malformed digest", v.Channel, v.VersionName)
	}
	if _, err := hex.DecodeString(v.SHA256); err != nil {
		return fmt.Errorf("variant %s/%s has a malformed digest: %w", v.Channel, v.VersionName, err)
	}
	if v.DownloadURL == "" {
		return fmt.Errorf("variant %s/%s has no download url", v.Channel, v.VersionName)
	}
	return nil
}

// Entry groups the published variants of a single package.
type Entry struct {
	PackageID string    `json:"packageId"`
	Name      string    `json:"name"`
	Variants  []Variant `json:"variants"`
}

// VariantFor returns the variant published on the preferred channel, falling
// back to DefaultChannel when the preferred channel has none. An entry that
// satisfies neither channel is reported as an error so callers can treat the
// entry as corrupt instead of guessing.
func (e *Entry) VariantFor(channel string) (Variant, error) {
	for _, v := range e.Variants {
		if v.Channel == channel {
			return v, nil
		}
	}
	if channel != DefaultChannel {
		for _, v := range e.Variants {
			if v.Channel == DefaultChannel {
				return v, nil
			}
		}
	}
	return Variant{}, fmt.Errorf("package %s publishes no variant for channel %q or %q", e.PackageID, channel, DefaultChannel)
}

// Index is the full application index published by a repository.
type Index struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Apps        []Entry   `json:"apps"`
}

// Validate checks the structural invariants of a parsed index: unique
// non-empty package ids, at least one variant per entry and well formed
// variant descriptors.
func (i *Index) Validate() error {
	seen := make(map[string]struct{}, len(i.Apps))
	for _, app := range i.Apps {
		if app.PackageID == "" {
			return fmt.Errorf("index contains an entry with an empty package id")
		}
		if _, ok := seen[app.PackageID]; ok {
			return fmt.Errorf("index contains a duplicate entry for %s", app.PackageID)
		}
		seen[app.PackageID] = struct{}{}
		if len(app.Variants) == 0 {
			return fmt.Errorf("package %s has no variants", app.PackageID)
		}
		for _, v := range app.Variants {
			if v.PackageID != app.PackageID {
				return fmt.Errorf("package %s lists a variant belonging to %s", app.PackageID, v.PackageID)
			}
			if err := v.validate(); err != nil {
				return fmt.Errorf("package %s: %w", app.PackageID, err)
			}
		}
	}
	return nil
}
