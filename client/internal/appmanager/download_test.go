package appmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appdockio/appdock/client/internal/catalog"
	"github.com/appdockio/appdock/client/internal/fetcher"
	"github.com/appdockio/appdock/client/internal/hostdb"
	"github.com/appdockio/appdock/client/internal/registry"
)

func TestDownloadOneTracksProgress(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.emit = []int{25, 50, 75}

	_, err := env.manager.Refresh(context.Background(), false)
	require.NoError(t, err)

	sub := env.manager.Registry().Subscribe()
	defer env.manager.Registry().Unsubscribe(sub)

	variant := makeVariant(pkgEditor, "Editor", catalog.DefaultChannel, 5)
	files, err := env.manager.DownloadOne(context.Background(), variant)
	require.NoError(t, err)
	require.Len(t, files, 1)

	var percents []int
	sawActive := false
drain:
	for {
		select {
		case snap := <-sub.Events():
			rec := snap.Records[pkgEditor]
			if rec.Download.State == registry.DownloadActive {
				sawActive = true
				percents = append(percents, rec.Download.Percent)
			}
		default:
			break drain
		}
	}

	assert.True(t, sawActive)
	assert.Contains(t, percents, 50)

	rec, ok := env.manager.Registry().Get(pkgEditor)
	require.True(t, ok)
	assert.Equal(t, registry.DownloadIdle, rec.Download.State)
	assert.Equal(t, registry.TaskDone, rec.Task.Progress)
	assert.False(t, rec.Task.Active())
}

func TestDownloadOneIgnoresUnknownProgress(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.emit = []int{fetcher.UnknownProgress, fetcher.UnknownProgress}

	_, err := env.manager.Refresh(context.Background(), false)
	require.NoError(t, err)

	sub := env.manager.Registry().Subscribe()
	defer env.manager.Registry().Unsubscribe(sub)

	variant := makeVariant(pkgEditor, "Editor", catalog.DefaultChannel, 5)
	_, err = env.manager.DownloadOne(context.Background(), variant)
	require.NoError(t, err)

	// start, completion and the final clear publish; the two sentinel
	// events must not
	published := 0
	for {
		select {
		case <-sub.Events():
			published++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 3, published)
}

func TestDownloadOneFailureMarksRecordAndFinishesTask(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.failFor = map[string]error{pkgEditor: errors.New("digest mismatch")}

	_, err := env.manager.Refresh(context.Background(), false)
	require.NoError(t, err)

	var messages []string
	env.manager.SetMessageHandler(func(message string) {
		messages = append(messages, message)
	})

	variant := makeVariant(pkgEditor, "Editor", catalog.DefaultChannel, 5)
	_, err = env.manager.DownloadOne(context.Background(), variant)
	require.Error(t, err)

	rec, ok := env.manager.Registry().Get(pkgEditor)
	require.True(t, ok)
	assert.Equal(t, registry.DownloadFailed, rec.Download.State)
	assert.Contains(t, rec.Download.Error, "digest mismatch")
	assert.Equal(t, registry.TaskDone, rec.Task.Progress, "a failed download must still finish its task")
	assert.False(t, env.manager.Registry().Snapshot().Busy)
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "Editor")
}

func TestDownloadManyAllOrNothingAbortsAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	env.host.set(pkgEditor, 3, installerID)
	env.host.set(pkgPlayer, 9, installerID)
	env.host.set(pkgViewer, 1, installerID)
	env.fetcher.failFor = map[string]error{pkgPlayer: errors.New("connection reset")}

	_, err := env.manager.Refresh(context.Background(), false)
	require.NoError(t, err)

	variants := []catalog.Variant{
		makeVariant(pkgEditor, "Editor", catalog.DefaultChannel, 5),
		makeVariant(pkgPlayer, "Player", catalog.DefaultChannel, 12),
		makeVariant(pkgViewer, "Viewer", catalog.DefaultChannel, 3),
	}

	go env.completeInstall(t, pkgEditor, 5, hostdb.ActionReplaced)
	results := env.manager.DownloadMany(context.Background(), variants, true)
	require.Len(t, results, 3)

	assert.Equal(t, BatchInstalled, results[0].Outcome)
	assert.Equal(t, BatchDownloadFailed, results[1].Outcome)
	assert.Equal(t, BatchAborted, results[2].Outcome)

	// the aborted member reverts to its resolved status and is never
	// handed to the installer
	assert.Empty(t, env.installer.sessionFor(pkgViewer))
	rec, ok := env.manager.Registry().Get(pkgViewer)
	require.True(t, ok)
	assert.Equal(t, registry.StateUpdatable, rec.Install.State)

	// the failed member keeps its download failure and reverts too
	rec, ok = env.manager.Registry().Get(pkgPlayer)
	require.True(t, ok)
	assert.Equal(t, registry.DownloadFailed, rec.Download.State)
	assert.Equal(t, registry.StateUpdatable, rec.Install.State)

	// the member installed before the failure is not rolled back
	rec, ok = env.manager.Registry().Get(pkgEditor)
	require.True(t, ok)
	assert.Equal(t, registry.StateUpdated, rec.Install.State)
}

func TestDownloadManyIndependentFailures(t *testing.T) {
	env := newTestEnv(t)
	env.host.set(pkgEditor, 3, installerID)
	env.host.set(pkgViewer, 1, installerID)
	env.fetcher.failFor = map[string]error{pkgEditor: errors.New("no space left")}

	_, err := env.manager.Refresh(context.Background(), false)
	require.NoError(t, err)

	variants := []catalog.Variant{
		makeVariant(pkgEditor, "Editor", catalog.DefaultChannel, 5),
		makeVariant(pkgViewer, "Viewer", catalog.DefaultChannel, 3),
	}

	go env.completeInstall(t, pkgViewer, 3, hostdb.ActionReplaced)
	results := env.manager.DownloadMany(context.Background(), variants, false)
	require.Len(t, results, 2)

	assert.Equal(t, BatchDownloadFailed, results[0].Outcome)
	assert.Equal(t, BatchInstalled, results[1].Outcome, "without all-or-nothing a failure stays local")
}

func TestDownloadManyMarksMembersPending(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.Refresh(context.Background(), false)
	require.NoError(t, err)

	// a failing fetch leaves no later state transition hiding the
	// Pending marking, so the revert path proves it was set
	env.fetcher.failFor = map[string]error{pkgEditor: errors.New("timeout")}

	sub := env.manager.Registry().Subscribe()
	defer env.manager.Registry().Unsubscribe(sub)

	variants := []catalog.Variant{makeVariant(pkgEditor, "Editor", catalog.DefaultChannel, 5)}
	results := env.manager.DownloadMany(context.Background(), variants, false)
	require.Len(t, results, 1)
	assert.Equal(t, BatchDownloadFailed, results[0].Outcome)

	sawPending := false
	for {
		select {
		case snap := <-sub.Events():
			if snap.Records[pkgEditor].Install.State == registry.StatePending {
				sawPending = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawPending)

	rec, _ := env.manager.Registry().Get(pkgEditor)
	assert.Equal(t, registry.StateInstallable, rec.Install.State, "pending reverts to the resolved status")
}
