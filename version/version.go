package version

// will be replaced with the release version when using goreleaser
var version = "development"

// AppDockVersion returns the AppDock client version
func AppDockVersion() string {
	return version
}
