//go:build !windows

package version

import (
	"runtime"
)

const (
	downloadURL = "https://appdock.io/install"
	macIntelURL = "https://pkgs.appdock.io/macos/amd64"
	macM1M2URL  = "https://pkgs.appdock.io/macos/arm64"
	linuxURL    = "https://pkgs.appdock.io/linux"
)

// DownloadUrl return with the proper download link
func DownloadUrl() string {
	switch runtime.GOOS {
	case "darwin":
		return darwinDownloadUrl()
	case "linux":
		return linuxURL
	default:
		return downloadURL
	}
}

func darwinDownloadUrl() string {
	switch runtime.GOARCH {
	case "amd64":
		return macIntelURL
	case "arm64":
		return macM1M2URL
	default:
		return downloadURL
	}
}
