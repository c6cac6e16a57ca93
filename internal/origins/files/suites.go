package files

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/igor/internal/models"
)

const (
	suiteSuffix = ".suite"
	setSuffix   = ".set"
)

// decodeDocuments splits a multi-document YAML file into its documents,
// dropping empty ones.
func decodeDocuments(filename string) ([]*yaml.Node, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []*yaml.Node
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse %s: %w", filename, err)
		}
		if node.Kind == 0 || (node.Kind == yaml.DocumentNode && len(node.Content) == 0) {
			continue
		}
		docs = append(docs, &node)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s holds no documents", filename)
	}
	return docs, nil
}

// TestsuitesOrigin serves suites from *.suite files in its paths. A suite
// file holds a properties document followed by blocks naming *.set files,
// each block with an optional searchpath relative to the suite file:
//
//	---
//	description: "An example testsuite"
//	---
//	searchpath: '../sets/'
//	sets:
//	  - 'example.set'
type TestsuitesOrigin struct {
	paths  []string
	logger arbor.ILogger
}

// NewTestsuitesOrigin creates a testsuite origin over the given directories.
func NewTestsuitesOrigin(paths []string, logger arbor.ILogger) *TestsuitesOrigin {
	return &TestsuitesOrigin{paths: paths, logger: logger}
}

func (o *TestsuitesOrigin) Name() string {
	return fmt.Sprintf("FilesystemTestsuitesOrigin(%v)", o.paths)
}

func (o *TestsuitesOrigin) Items() (map[string]interface{}, error) {
	items := map[string]interface{}{}
	for _, path := range o.paths {
		files, err := filepath.Glob(filepath.Join(path, "*"+suiteSuffix))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			suite, err := suiteFromFile(file)
			if err != nil {
				return nil, err
			}
			items[suite.Name] = suite
		}
	}
	return items, nil
}

func (o *TestsuitesOrigin) Lookup(name string) (interface{}, error) {
	items, err := o.Items()
	if err != nil {
		return nil, err
	}
	if suite, ok := items[name]; ok {
		return suite, nil
	}
	return nil, nil
}

type suiteProperties struct {
	Description string `yaml:"description"`
}

type suiteBlock struct {
	Searchpath string   `yaml:"searchpath"`
	Sets       []string `yaml:"sets"`
}

func suiteFromFile(filename string) (*models.Testsuite, error) {
	docs, err := decodeDocuments(filename)
	if err != nil {
		return nil, err
	}

	var properties suiteProperties
	if err := docs[0].Decode(&properties); err != nil {
		return nil, fmt.Errorf("suite properties in %s: %w", filename, err)
	}

	suitedir := filepath.Dir(filename)
	var sets []*models.Testset
	for _, doc := range docs[1:] {
		var block suiteBlock
		if err := doc.Decode(&block); err != nil {
			return nil, fmt.Errorf("suite block in %s: %w", filename, err)
		}
		searchpath := block.Searchpath
		if searchpath == "" {
			searchpath = "."
		}
		for _, setfile := range block.Sets {
			setpath := filepath.Join(suitedir, searchpath, setfile)
			set, err := setFromFile(setpath)
			if err != nil {
				return nil, err
			}
			sets = append(sets, set)
		}
	}

	name := strings.TrimSuffix(filepath.Base(filename), suiteSuffix)
	suite := models.NewTestsuite(name, sets...)
	suite.Description = properties.Description
	return suite, nil
}

type setProperties struct {
	Description string   `yaml:"description"`
	Searchpath  string   `yaml:"searchpath"`
	Libs        []string `yaml:"libs"`
}

type caseEntry struct {
	Filename      string   `yaml:"filename"`
	Timeout       int      `yaml:"timeout"`
	ExpectFailure bool     `yaml:"expect_failure"`
	Description   string   `yaml:"description"`
	Dependencies  []string `yaml:"dependencies"`
}

// setFromFile parses one *.set file: a properties document (description,
// searchpath, libs) followed by one document per testcase. Testcase paths
// are relative to the set file plus the searchpath; lib entries are paths
// whose basename becomes the lib name.
func setFromFile(filename string) (*models.Testset, error) {
	docs, err := decodeDocuments(filename)
	if err != nil {
		return nil, err
	}

	var properties setProperties
	if err := docs[0].Decode(&properties); err != nil {
		return nil, fmt.Errorf("set properties in %s: %w", filename, err)
	}
	searchpath := properties.Searchpath
	if searchpath == "" {
		searchpath = "."
	}
	setdir := filepath.Dir(filename)

	var cases []*models.Testcase
	for _, doc := range docs[1:] {
		var entry caseEntry
		if err := doc.Decode(&entry); err != nil {
			return nil, fmt.Errorf("testcase entry in %s: %w", filename, err)
		}
		if entry.Filename == "" {
			return nil, fmt.Errorf("testcase entry without filename in %s", filename)
		}
		testcase := models.NewTestcase(filepath.Join(setdir, searchpath, entry.Filename))
		if entry.Timeout > 0 {
			testcase.Timeout = entry.Timeout
		}
		testcase.ExpectFailure = entry.ExpectFailure
		testcase.Description = entry.Description
		testcase.Dependencies = entry.Dependencies
		cases = append(cases, testcase)
	}

	name := strings.TrimSuffix(filepath.Base(filename), setSuffix)
	set := models.NewTestset(name, cases...)
	set.Description = properties.Description
	for _, lib := range properties.Libs {
		set.Libs[filepath.Base(lib)] = filepath.Join(setdir, lib)
	}
	return set, nil
}
