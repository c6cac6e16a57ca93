package models

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/ternarybob/arbor"
)

// ArchiveSubdir is the top-level directory inside a testsuite archive.
const ArchiveSubdir = "testcases"

// Testsuite is an ordered list of testsets. All testsets (and subsequently
// testcases) are run serially; testsets can appear more than once.
type Testsuite struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Testsets    []*Testset `json:"testsets" yaml:"testsets"`
}

// NewTestsuite creates a suite from the given sets.
func NewTestsuite(name string, testsets ...*Testset) *Testsuite {
	return &Testsuite{Name: name, Testsets: testsets}
}

// Testcases flattens the testset hierarchy into the ordered testcase
// sequence of this suite.
func (s *Testsuite) Testcases() []*Testcase {
	var cases []*Testcase
	for _, set := range s.Testsets {
		cases = append(cases, set.Testcases...)
	}
	return cases
}

// Libs merges the library maps of all testsets. Later sets win on name
// collisions, mirroring set order.
func (s *Testsuite) Libs() map[string]string {
	libs := map[string]string{}
	for _, set := range s.Testsets {
		for name, path := range set.Libs {
			libs[name] = path
		}
	}
	return libs
}

// Timeout is the sum of all testcase timeouts in seconds.
func (s *Testsuite) Timeout() int {
	total := 0
	for _, c := range s.Testcases() {
		total += c.Timeout
	}
	return total
}

// Validate reports whether the archive for this suite can be built, i.e.
// all testcase scripts can be read.
func (s *Testsuite) Validate() bool {
	_, err := s.Archive(nil)
	return err == nil
}

// ApplyOverrides applies declared settable properties from a plan layout.
func (s *Testsuite) ApplyOverrides(overrides map[string]interface{}) []string {
	var ignored []string
	for k, v := range overrides {
		if k == "description" {
			if d, ok := v.(string); ok {
				s.Description = d
				continue
			}
		}
		ignored = append(ignored, k)
	}
	return ignored
}

// Archive builds the bzip2-compressed tar archive of this suite:
//
//	testcases/<stepN>-<casefilename>
//	testcases/<stepN>-<casefilename>.deps
//	testcases/<stepN>-<casefilename>.d/...
//	testcases/lib/<libname>/...
//
// stepN is the testcase's ordinal in the flattened suite, so a testcase may
// appear multiple times under different ordinals.
func (s *Testsuite) Archive(logger arbor.ILogger) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return nil, fmt.Errorf("bzip2 writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	if err := s.addTestcases(tw, logger); err != nil {
		return nil, err
	}
	if err := s.addLibs(tw, logger); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close bzip2: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Testsuite) addTestcases(tw *tar.Writer, logger arbor.ILogger) error {
	for stepn, testcase := range s.Testcases() {
		if testcase.Filename == "" && testcase.Body == nil {
			if logger != nil {
				logger.Warn().Str("testcase", testcase.Name).Msg("Empty testcase skipped")
			}
			continue
		}

		base := testcase.Name
		if testcase.Filename != "" {
			base = filepath.Base(testcase.Filename)
		}
		arcname := fmt.Sprintf("%s/%d-%s", ArchiveSubdir, stepn, base)

		source, err := testcase.Source()
		if err != nil {
			return err
		}
		if err := writeTarFile(tw, arcname, source); err != nil {
			return err
		}

		deps := strings.Join(testcase.Dependencies, "\n")
		if err := writeTarFile(tw, arcname+".deps", []byte(deps)); err != nil {
			return err
		}

		if dir, ok := testcase.ExtraDir(); ok {
			if err := addTarTree(tw, dir, arcname+".d"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Testsuite) addLibs(tw *tar.Writer, logger arbor.ILogger) error {
	seen := map[string]bool{}
	for name, path := range s.Libs() {
		if seen[name] {
			if logger != nil {
				logger.Warn().Str("lib", name).Msg("Duplicate lib name skipped")
			}
			continue
		}
		seen[name] = true

		if _, err := os.Stat(path); err != nil {
			if logger != nil {
				logger.Warn().Str("lib", name).Str("path", path).Msg("Lib path does not exist, skipped")
			}
			continue
		}
		arcname := fmt.Sprintf("%s/lib/%s", ArchiveSubdir, name)
		if err := addTarTree(tw, path, arcname); err != nil {
			return err
		}
	}
	return nil
}

func writeTarFile(tw *tar.Writer, arcname string, data []byte) error {
	hdr := &tar.Header{
		Name:    arcname,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header %s: %w", arcname, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("tar write %s: %w", arcname, err)
	}
	return nil
}

// addTarTree recursively adds the directory tree at root under arcname.
func addTarTree(tw *tar.Writer, root, arcname string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := arcname
		if rel != "." {
			name = arcname + "/" + filepath.ToSlash(rel)
		}

		if info.IsDir() {
			hdr := &tar.Header{
				Name:     name + "/",
				Mode:     int64(info.Mode().Perm()),
				Typeflag: tar.TypeDir,
				ModTime:  info.ModTime(),
			}
			return tw.WriteHeader(hdr)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		hdr := &tar.Header{
			Name:    name,
			Mode:    int64(info.Mode().Perm()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
