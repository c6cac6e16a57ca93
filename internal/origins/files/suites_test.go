package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/igor/internal/common"
	"github.com/ternarybob/igor/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// suiteTree builds a realistic definition tree:
//
//	suites/basic.suite
//	sets/example.set
//	sets/testcases/{first.sh,second.sh}
//	sets/lib/helpers/common.sh
func suiteTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "suites", "basic.suite"), `---
description: 'A basic installation check'
---
searchpath: '../sets/'
sets:
  - 'example.set'
`)
	writeFile(t, filepath.Join(root, "sets", "example.set"), `---
description: 'Example set'
searchpath: 'testcases/'
libs:
  - 'lib/helpers'
---
filename: 'first.sh'
timeout: 120
---
filename: 'second.sh'
expect_failure: true
description: 'known broken'
dependencies:
  - 'curl'
`)
	writeFile(t, filepath.Join(root, "sets", "testcases", "first.sh"), "echo first\n")
	writeFile(t, filepath.Join(root, "sets", "testcases", "second.sh"), "echo second\n")
	writeFile(t, filepath.Join(root, "sets", "lib", "helpers", "common.sh"), "echo helper\n")
	return root
}

func TestTestsuitesOrigin(t *testing.T) {
	root := suiteTree(t)
	origin := NewTestsuitesOrigin([]string{filepath.Join(root, "suites")}, common.GetLogger())

	t.Run("suite name comes from the filename", func(t *testing.T) {
		items, err := origin.Items()
		require.NoError(t, err)
		require.Contains(t, items, "basic")

		suite := items["basic"].(*models.Testsuite)
		assert.Equal(t, "A basic installation check", suite.Description)
	})

	t.Run("sets and testcases resolve through the searchpaths", func(t *testing.T) {
		item, err := origin.Lookup("basic")
		require.NoError(t, err)
		suite := item.(*models.Testsuite)

		cases := suite.Testcases()
		require.Len(t, cases, 2)
		assert.Equal(t, "first.sh", cases[0].Name)
		assert.Equal(t, 120, cases[0].Timeout)
		assert.False(t, cases[0].ExpectFailure)
		assert.Equal(t, models.DefaultTestcaseTimeout, cases[1].Timeout)
		assert.True(t, cases[1].ExpectFailure)
		assert.Equal(t, []string{"curl"}, cases[1].Dependencies)

		// Files must really exist where the paths point.
		assert.True(t, suite.Validate())
	})

	t.Run("libs are keyed by their basename", func(t *testing.T) {
		item, err := origin.Lookup("basic")
		require.NoError(t, err)
		suite := item.(*models.Testsuite)
		libs := suite.Libs()
		require.Contains(t, libs, "helpers")
		_, err = os.Stat(filepath.Join(libs["helpers"], "common.sh"))
		assert.NoError(t, err)
	})

	t.Run("unknown suite is nil", func(t *testing.T) {
		item, err := origin.Lookup("nosuch")
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("missing set file is an error", func(t *testing.T) {
		bad := t.TempDir()
		writeFile(t, filepath.Join(bad, "broken.suite"), `---
description: 'broken'
---
sets:
  - 'nosuch.set'
`)
		_, err := NewTestsuitesOrigin([]string{bad}, common.GetLogger()).Items()
		assert.Error(t, err)
	})

	t.Run("empty suite file is an error", func(t *testing.T) {
		bad := t.TempDir()
		writeFile(t, filepath.Join(bad, "empty.suite"), "")
		_, err := NewTestsuitesOrigin([]string{bad}, common.GetLogger()).Items()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no documents")
	})

	t.Run("testcase entry without filename is an error", func(t *testing.T) {
		bad := t.TempDir()
		writeFile(t, filepath.Join(bad, "nameless.suite"), `---
description: 'x'
---
sets:
  - 'nameless.set'
`)
		writeFile(t, filepath.Join(bad, "nameless.set"), `---
description: 'x'
---
timeout: 10
`)
		_, err := NewTestsuitesOrigin([]string{bad}, common.GetLogger()).Items()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "without filename")
	})
}
