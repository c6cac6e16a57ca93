package models

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultTestcaseTimeout is the per-testcase timeout when none is declared.
const DefaultTestcaseTimeout = 60

// Testcase maps to a script file which is run on a host. A testcase can
// fail or succeed and carries a timeout; sometimes a testcase is expected
// to fail.
type Testcase struct {
	Name          string   `json:"name" yaml:"name"`
	Filename      string   `json:"filename" yaml:"filename"`
	Timeout       int      `json:"timeout" yaml:"timeout"`
	ExpectFailure bool     `json:"expect_failure" yaml:"expect_failure"`
	Description   string   `json:"description" yaml:"description"`
	Dependencies  []string `json:"dependencies" yaml:"dependencies"`

	// Body holds the script inline. When empty, Source reads Filename.
	Body []byte `json:"-" yaml:"-"`
}

// NewTestcase creates a testcase for a script file with the default timeout.
func NewTestcase(filename string) *Testcase {
	return &Testcase{
		Name:     filepath.Base(filename),
		Filename: filename,
		Timeout:  DefaultTestcaseTimeout,
	}
}

// Source yields the script body of this testcase.
func (t *Testcase) Source() ([]byte, error) {
	if t.Body != nil {
		return t.Body, nil
	}
	if t.Filename == "" {
		return nil, fmt.Errorf("testcase %s has no script file", t.Name)
	}
	src, err := os.ReadFile(t.Filename)
	if err != nil {
		return nil, fmt.Errorf("read testcase %s: %w", t.Name, err)
	}
	return src, nil
}

// ExtraDir returns the optional per-case extra tree (the script path plus a
// ".d" suffix) and whether it exists on disk.
func (t *Testcase) ExtraDir() (string, bool) {
	if t.Filename == "" {
		return "", false
	}
	dir := t.Filename + ".d"
	info, err := os.Stat(dir)
	return dir, err == nil && info.IsDir()
}

// ApplyOverrides applies declared settable properties from a plan layout.
func (t *Testcase) ApplyOverrides(overrides map[string]interface{}) []string {
	var ignored []string
	for k, v := range overrides {
		switch k {
		case "timeout":
			if n, ok := toInt(v); ok {
				t.Timeout = n
				continue
			}
			ignored = append(ignored, k)
		case "expect_failure":
			if b, ok := v.(bool); ok {
				t.ExpectFailure = b
				continue
			}
			ignored = append(ignored, k)
		case "description":
			if s, ok := v.(string); ok {
				t.Description = s
				continue
			}
			ignored = append(ignored, k)
		default:
			ignored = append(ignored, k)
		}
	}
	return ignored
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
