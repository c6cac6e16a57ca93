package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/interfaces"
)

type markerHost struct{ name, mac string }

func (h *markerHost) Prepare() error     { return nil }
func (h *markerHost) Start() error       { return nil }
func (h *markerHost) Name() string       { return h.name }
func (h *markerHost) MACAddress() string { return h.mac }
func (h *markerHost) Purge() error       { return nil }

func newProfilesOrigin(t *testing.T) (*LocalProfilesOrigin, string) {
	t.Helper()
	root := t.TempDir()
	return NewLocalProfilesOrigin(root, common.GetLogger()), root
}

func createProfile(t *testing.T, origin *LocalProfilesOrigin, name, kargs string) interfaces.Profile {
	t.Helper()
	require.NoError(t, origin.CreateProfile(name, []byte("kernel-bits"), []byte("initrd-bits"), []byte(kargs)))
	item, err := origin.Lookup(name)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item.(interfaces.Profile)
}

func TestLocalProfilesOrigin(t *testing.T) {
	t.Run("missing root serves nothing", func(t *testing.T) {
		origin := NewLocalProfilesOrigin("/nonexistent/profiles", common.GetLogger())
		items, err := origin.Items()
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("create and list", func(t *testing.T) {
		origin, root := newProfilesOrigin(t)
		createProfile(t, origin, "leap", "quiet splash")

		items, err := origin.Items()
		require.NoError(t, err)
		assert.Contains(t, items, "leap")

		data, err := os.ReadFile(filepath.Join(root, "leap", "kernel"))
		require.NoError(t, err)
		assert.Equal(t, []byte("kernel-bits"), data)
	})

	t.Run("names with separators are rejected", func(t *testing.T) {
		origin, _ := newProfilesOrigin(t)
		assert.Error(t, origin.CreateProfile("../escape", nil, nil, nil))
		assert.Error(t, origin.CreateProfile(`a\b`, nil, nil, nil))
	})

	t.Run("lookup of an unknown profile is nil", func(t *testing.T) {
		origin, _ := newProfilesOrigin(t)
		item, err := origin.Lookup("nosuch")
		require.NoError(t, err)
		assert.Nil(t, item)
	})
}

func TestLocalProfile(t *testing.T) {
	host := &markerHost{name: "box", mac: "52:54:00:aa:bb:cc"}

	t.Run("assignment writes the effective kargs and enables pxe", func(t *testing.T) {
		origin, root := newProfilesOrigin(t)
		profile := createProfile(t, origin, "leap", "quiet")

		require.NoError(t, profile.AssignTo(host, "igor_cookie=iX"))

		data, err := os.ReadFile(filepath.Join(root, "leap", "assigned-52-54-00-aa-bb-cc"))
		require.NoError(t, err)
		assert.Equal(t, "quiet igor_cookie=iX\n", string(data))

		_, err = os.Stat(filepath.Join(root, "leap", "pxe-52-54-00-aa-bb-cc"))
		assert.NoError(t, err)
	})

	t.Run("revoke drops both markers", func(t *testing.T) {
		origin, root := newProfilesOrigin(t)
		profile := createProfile(t, origin, "leap", "quiet")
		require.NoError(t, profile.AssignTo(host, ""))

		require.NoError(t, profile.RevokeFrom(host))
		_, err := os.Stat(filepath.Join(root, "leap", "assigned-52-54-00-aa-bb-cc"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(root, "leap", "pxe-52-54-00-aa-bb-cc"))
		assert.True(t, os.IsNotExist(err))

		// Revoking twice is fine.
		assert.NoError(t, profile.RevokeFrom(host))
	})

	t.Run("kargs read and replace", func(t *testing.T) {
		origin, _ := newProfilesOrigin(t)
		profile := createProfile(t, origin, "leap", "quiet splash")

		kargs, err := profile.Kargs("")
		require.NoError(t, err)
		assert.Equal(t, "quiet splash", kargs)

		kargs, err = profile.Kargs("debug console=ttyS0")
		require.NoError(t, err)
		assert.Equal(t, "debug console=ttyS0", kargs)

		// The replacement sticks.
		kargs, err = profile.Kargs("")
		require.NoError(t, err)
		assert.Equal(t, "debug console=ttyS0", kargs)
	})

	t.Run("delete removes the directory", func(t *testing.T) {
		origin, root := newProfilesOrigin(t)
		profile := createProfile(t, origin, "leap", "quiet")

		require.NoError(t, profile.Delete())
		_, err := os.Stat(filepath.Join(root, "leap"))
		assert.True(t, os.IsNotExist(err))
	})
}
