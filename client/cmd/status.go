package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/appdockio/appdock/client/internal/registry"
	"github.com/appdockio/appdock/version"
)

var (
	detailFlag bool
	jsonFlag   bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "status of the managed application packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := buildClient(cmd)
		if err != nil {
			return err
		}
		defer closeClient(client)

		ctx := cmd.Context()
		if _, err := client.Manager.Refresh(ctx, false); err != nil {
			return fmt.Errorf("refresh catalog: %w", err)
		}

		snapshot := client.Manager.Registry().Snapshot()
		output := statusOutput{
			Version:       version.AppDockVersion(),
			CatalogURL:    client.Config.CatalogURL.String(),
			DownloadsIdle: snapshot.DownloadsIdle,
			Busy:          snapshot.Busy,
			Packages:      packagesFromSnapshot(snapshot),
		}

		if detailFlag {
			output.LatestRelease = checkLatestRelease()
		}

		if jsonFlag {
			encoded, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("encode status: %w", err)
			}
			cmd.Println(string(encoded))
			return nil
		}

		cmd.Print(renderStatus(output, detailFlag))
		return nil
	},
}

func init() {
	statusCmd.PersistentFlags().BoolVarP(&detailFlag, "detail", "d", false, "display detailed status information and check for a newer appdock release")
	statusCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output status in JSON format")
}

type statusOutput struct {
	Version       string          `json:"version"`
	LatestRelease string          `json:"latestRelease,omitempty"`
	CatalogURL    string          `json:"catalogUrl"`
	DownloadsIdle bool            `json:"downloadsIdle"`
	Busy          bool            `json:"busy"`
	Packages      []packageStatus `json:"packages"`
}

type packageStatus struct {
	PackageID     string `json:"packageId"`
	Name          string `json:"name"`
	Channel       string `json:"channel"`
	VersionName   string `json:"versionName"`
	VersionCode   int64  `json:"versionCode"`
	State         string `json:"state"`
	InstalledCode int64  `json:"installedCode,omitempty"`
	Error         string `json:"error,omitempty"`
	Declined      bool   `json:"declined,omitempty"`
	Download      string `json:"download,omitempty"`
	Percent       int    `json:"percent,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
}

func packagesFromSnapshot(snapshot registry.Snapshot) []packageStatus {
	packages := make([]packageStatus, 0, len(snapshot.Records))
	for _, rec := range snapshot.Records {
		pkg := packageStatus{
			PackageID:     rec.ID,
			Name:          rec.DisplayName(),
			Channel:       rec.Selected.Channel,
			VersionName:   rec.Selected.VersionName,
			VersionCode:   rec.Selected.VersionCode,
			State:         rec.Install.State.String(),
			InstalledCode: rec.Install.InstalledCode,
			Error:         rec.Install.Error,
			Declined:      rec.Install.UserDeclined,
		}
		if rec.Download.State != registry.DownloadIdle {
			pkg.Download = rec.Download.State.String()
			pkg.Percent = rec.Download.Percent
			if rec.Download.Error != "" {
				pkg.Error = rec.Download.Error
			}
		}
		if rec.Session != nil {
			pkg.SessionID = rec.Session.ID
		}
		packages = append(packages, pkg)
	}

	sort.Slice(packages, func(i, j int) bool {
		return packages[i].PackageID < packages[j].PackageID
	})
	return packages
}

func renderStatus(output statusOutput, detail bool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("AppDock version: %s\n", output.Version))
	if output.LatestRelease != "" {
		sb.WriteString(fmt.Sprintf("Newer release available: %s (%s)\n", output.LatestRelease, version.DownloadUrl()))
	}
	sb.WriteString(fmt.Sprintf("Repository: %s (%d packages)\n", output.CatalogURL, len(output.Packages)))

	for _, pkg := range output.Packages {
		sb.WriteString(fmt.Sprintf("\n %s (%s)\n", pkg.Name, pkg.PackageID))
		sb.WriteString(fmt.Sprintf("  Channel: %s\n", pkg.Channel))
		sb.WriteString(fmt.Sprintf("  Latest:  %s (code %d)\n", pkg.VersionName, pkg.VersionCode))

		state := pkg.State
		if pkg.InstalledCode > 0 && pkg.InstalledCode != pkg.VersionCode {
			state = fmt.Sprintf("%s, installed code %d", state, pkg.InstalledCode)
		}
		if pkg.Declined {
			state += " (declined by user)"
		}
		sb.WriteString(fmt.Sprintf("  State:   %s\n", state))

		if pkg.Error != "" {
			sb.WriteString(fmt.Sprintf("  Error:   %s\n", pkg.Error))
		}
		if !detail {
			continue
		}
		if pkg.Download != "" {
			sb.WriteString(fmt.Sprintf("  Download: %s (%d%%)\n", pkg.Download, pkg.Percent))
		}
		if pkg.SessionID != "" {
			sb.WriteString(fmt.Sprintf("  Session:  %s\n", pkg.SessionID))
		}
	}

	return sb.String()
}

// checkLatestRelease asks the release feed whether a newer appdock build
// exists. The answer is empty when we are current or the feed cannot be
// reached quickly.
func checkLatestRelease() string {
	available := make(chan string, 1)

	selfUpdate := version.NewUpdate()
	defer selfUpdate.StopWatch()
	selfUpdate.SetOnUpdateListener(func(v string) {
		select {
		case available <- v:
		default:
		}
	})

	select {
	case v := <-available:
		return v
	case <-time.After(3 * time.Second):
		return ""
	}
}
