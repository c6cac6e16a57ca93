package models

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

// readArchive unpacks a suite archive into name -> content.
func readArchive(t *testing.T, archive []byte) map[string][]byte {
	t.Helper()
	tr := tar.NewReader(bzip2.NewReader(bytes.NewReader(archive)))
	files := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = data
	}
	return files
}

func TestTestsuiteFlattening(t *testing.T) {
	a, b := NewTestcase("/tmp/a.sh"), NewTestcase("/tmp/b.sh")
	set1 := NewTestset("one", a)
	set2 := NewTestset("two", b)
	// The same set may appear more than once.
	suite := NewTestsuite("s", set1, set2, set1)

	cases := suite.Testcases()
	require.Len(t, cases, 3)
	assert.Same(t, a, cases[0])
	assert.Same(t, b, cases[1])
	assert.Same(t, a, cases[2])
	assert.Equal(t, 3*DefaultTestcaseTimeout, suite.Timeout())
}

func TestTestsuiteArchive(t *testing.T) {
	dir := t.TempDir()
	first := writeScript(t, dir, "first.sh", "echo first\n")
	second := writeScript(t, dir, "second.sh", "echo second\n")

	libdir := filepath.Join(dir, "mylib")
	require.NoError(t, os.MkdirAll(libdir, 0o755))
	writeScript(t, libdir, "helper.sh", "echo helper\n")

	extradir := first + ".d"
	require.NoError(t, os.MkdirAll(extradir, 0o755))
	writeScript(t, extradir, "extra.txt", "payload\n")

	tc1 := NewTestcase(first)
	tc1.Dependencies = []string{"curl", "tar"}
	tc2 := NewTestcase(second)

	set := NewTestset("aset", tc1, tc2)
	set.Libs["mylib"] = libdir
	suite := NewTestsuite("asuite", set)

	archive, err := suite.Archive(nil)
	require.NoError(t, err)

	files := readArchive(t, archive)
	assert.Equal(t, []byte("echo first\n"), files["testcases/0-first.sh"])
	assert.Equal(t, []byte("echo second\n"), files["testcases/1-second.sh"])
	assert.Equal(t, []byte("curl\ntar"), files["testcases/0-first.sh.deps"])
	assert.Equal(t, []byte(""), files["testcases/1-second.sh.deps"])
	assert.Equal(t, []byte("payload\n"), files["testcases/0-first.sh.d/extra.txt"])
	assert.Equal(t, []byte("echo helper\n"), files["testcases/lib/mylib/helper.sh"])
}

func TestTestsuiteArchiveRepeatedTestcase(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "only.sh", "true\n")

	tc := NewTestcase(script)
	suite := NewTestsuite("s", NewTestset("a", tc), NewTestset("b", tc))

	archive, err := suite.Archive(nil)
	require.NoError(t, err)

	files := readArchive(t, archive)
	// Same case, two ordinals.
	assert.Contains(t, files, "testcases/0-only.sh")
	assert.Contains(t, files, "testcases/1-only.sh")
}

func TestTestsuiteArchiveMissingLib(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ok.sh", "true\n")

	set := NewTestset("aset", NewTestcase(script))
	set.Libs["gone"] = filepath.Join(dir, "does-not-exist")
	suite := NewTestsuite("asuite", set)

	archive, err := suite.Archive(nil)
	require.NoError(t, err)

	for name := range readArchive(t, archive) {
		assert.NotContains(t, name, "gone")
	}
}

func TestTestsuiteValidate(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ok.sh", "true\n")

	good := NewTestsuite("good", NewTestset("s", NewTestcase(script)))
	assert.True(t, good.Validate())

	bad := NewTestsuite("bad", NewTestset("s", NewTestcase(filepath.Join(dir, "missing.sh"))))
	assert.False(t, bad.Validate())
}

func TestTestcaseSourcePrefersBody(t *testing.T) {
	tc := NewTestcase("/nonexistent/file.sh")
	tc.Body = []byte("inline\n")
	src, err := tc.Source()
	require.NoError(t, err)
	assert.Equal(t, []byte("inline\n"), src)
}

func TestTestsuiteLibsMerge(t *testing.T) {
	s1 := NewTestset("one")
	s1.Libs["common"] = "/path/a"
	s2 := NewTestset("two")
	s2.Libs["common"] = "/path/b"

	suite := NewTestsuite("s", s1, s2)
	// Later sets win.
	assert.Equal(t, "/path/b", suite.Libs()["common"])
}
