package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/igor/internal/common"
)

func writeHostsFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestHostsOrigin(t *testing.T) {
	dir := t.TempDir()
	writeHostsFile(t, dir, "lab.hosts.toml", `
[defaults]
poweron_script = "echo default-on"
poweroff_script = "echo default-off"

[[hosts]]
name = "box1"
mac = "52:54:00:00:00:01"

[[hosts]]
name = "box2"
mac = "52:54:00:00:00:02"
poweron_script = "echo custom-on"
`)
	origin := NewHostsOrigin([]string{dir}, common.GetLogger())

	t.Run("parses all entries", func(t *testing.T) {
		items, err := origin.Items()
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("defaults fill empty fields only", func(t *testing.T) {
		item, err := origin.Lookup("box1")
		require.NoError(t, err)
		host := item.(*ScriptHost)
		assert.Equal(t, "52:54:00:00:00:01", host.MACAddress())
		assert.Equal(t, "echo default-on", host.def.PowerOnScript)

		item, err = origin.Lookup("box2")
		require.NoError(t, err)
		host = item.(*ScriptHost)
		assert.Equal(t, "echo custom-on", host.def.PowerOnScript)
		assert.Equal(t, "echo default-off", host.def.PowerOffScript)
	})

	t.Run("unknown host is nil", func(t *testing.T) {
		item, err := origin.Lookup("nosuch")
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("entry without name is an error", func(t *testing.T) {
		bad := t.TempDir()
		writeHostsFile(t, bad, "bad.hosts.toml", `
[[hosts]]
mac = "52:54:00:00:00:03"
`)
		_, err := NewHostsOrigin([]string{bad}, common.GetLogger()).Items()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "without name")
	})

	t.Run("non-matching files are ignored", func(t *testing.T) {
		empty := t.TempDir()
		writeHostsFile(t, empty, "notes.txt", "not a hosts file")
		items, err := NewHostsOrigin([]string{empty}, common.GetLogger()).Items()
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestScriptHost(t *testing.T) {
	host := &ScriptHost{
		def: hostDef{
			Name:          "box",
			MAC:           "52:54:00:00:00:09",
			PowerOnScript: "true",
		},
		logger: common.GetLogger(),
	}

	t.Run("prepare is a no-op", func(t *testing.T) {
		assert.NoError(t, host.Prepare())
	})

	t.Run("start runs the power-on script", func(t *testing.T) {
		assert.NoError(t, host.Start())
	})

	t.Run("missing script is an error", func(t *testing.T) {
		err := host.Purge()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no power off script")
	})

	t.Run("failing script surfaces its output", func(t *testing.T) {
		failing := &ScriptHost{
			def:    hostDef{Name: "box", PowerOnScript: "echo boom; exit 1"},
			logger: common.GetLogger(),
		}
		err := failing.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}
