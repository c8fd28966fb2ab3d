package version

import (
	"runtime"

	"golang.org/x/sys/windows/registry"
)

const (
	downloadURL  = "https://appdock.io/install"
	urlWinExe    = "https://pkgs.appdock.io/windows/x64"
	urlWinExeArm = "https://pkgs.appdock.io/windows/arm64"
)

var regKeyAppPath = "SOFTWARE\\Microsoft\\Windows\\CurrentVersion\\App Paths\\Appdock"

// DownloadUrl return with the proper download link
func DownloadUrl() string {
	if _, err := registry.OpenKey(registry.LOCAL_MACHINE, regKeyAppPath, registry.QUERY_VALUE); err != nil {
		return downloadURL
	}

	switch runtime.GOARCH {
	case "amd64":
		return urlWinExe
	case "arm64":
		return urlWinExeArm
	default:
		return downloadURL
	}
}
