package appmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appdockio/appdock/client/internal/hostdb"
	"github.com/appdockio/appdock/client/internal/registry"
)

func TestHandlePackageChangeMapsActions(t *testing.T) {
	testMatrix := []struct {
		action    hostdb.Action
		wantState registry.InstallState
	}{
		{action: hostdb.ActionAdded, wantState: registry.StateInstalled},
		{action: hostdb.ActionReplaced, wantState: registry.StateUpdated},
		{action: hostdb.ActionRemoved, wantState: registry.StateInstallable},
	}

	for _, testCase := range testMatrix {
		t.Run(string(testCase.action), func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.manager.Refresh(context.Background(), false)
			require.NoError(t, err)

			env.manager.HandlePackageChange(hostdb.ChangeEvent{
				Action:      testCase.action,
				PackageID:   pkgEditor,
				VersionCode: 5,
			})

			rec, ok := env.manager.Registry().Get(pkgEditor)
			require.True(t, ok)
			assert.Equal(t, testCase.wantState, rec.Install.State)
			assert.Equal(t, int64(5), rec.Selected.VersionCode)
		})
	}
}

func TestHandlePackageChangeIgnoresUnknownPackage(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.manager.Refresh(context.Background(), false)
	require.NoError(t, err)

	before := env.manager.Registry().Snapshot()
	env.manager.HandlePackageChange(hostdb.ChangeEvent{
		Action:      hostdb.ActionAdded,
		PackageID:   "io.example.sideloaded",
		VersionCode: 1,
	})

	after := env.manager.Registry().Snapshot()
	assert.Equal(t, len(before.Records), len(after.Records))
	_, ok := after.Records["io.example.sideloaded"]
	assert.False(t, ok)
}
