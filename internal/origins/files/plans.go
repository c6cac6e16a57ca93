package files

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/models"
)

const planSuffix = ".plan"

// TestplansOrigin serves plans from *.plan files in its paths. A plan file
// holds a properties document followed by one document per job layout:
//
//	---
//	description: A simple plan
//	---
//	testsuite: 'basic_installation'
//	profile: '{profile_pri}'
//	host: 'default'
//	additional_kargs: 'foo'
type TestplansOrigin struct {
	paths  []string
	logger arbor.ILogger
}

// NewTestplansOrigin creates a testplan origin over the given directories.
func NewTestplansOrigin(paths []string, logger arbor.ILogger) *TestplansOrigin {
	return &TestplansOrigin{paths: paths, logger: logger}
}

func (o *TestplansOrigin) Name() string {
	return fmt.Sprintf("FilesystemTestplansOrigin(%v)", o.paths)
}

func (o *TestplansOrigin) Items() (map[string]interface{}, error) {
	items := map[string]interface{}{}
	for _, path := range o.paths {
		files, err := filepath.Glob(filepath.Join(path, "*"+planSuffix))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			plan, err := planFromFile(file)
			if err != nil {
				return nil, err
			}
			items[plan.Name] = plan
		}
	}
	return items, nil
}

func (o *TestplansOrigin) Lookup(name string) (interface{}, error) {
	items, err := o.Items()
	if err != nil {
		return nil, err
	}
	if plan, ok := items[name]; ok {
		return plan, nil
	}
	return nil, nil
}

type planProperties struct {
	Description string            `yaml:"description"`
	Variables   map[string]string `yaml:"variables"`
}

func planFromFile(filename string) (*models.Testplan, error) {
	docs, err := decodeDocuments(filename)
	if err != nil {
		return nil, err
	}

	var properties planProperties
	if err := docs[0].Decode(&properties); err != nil {
		return nil, fmt.Errorf("plan properties in %s: %w", filename, err)
	}

	var layouts []*models.JobLayout
	for _, doc := range docs[1:] {
		var layout models.JobLayout
		if err := doc.Decode(&layout); err != nil {
			return nil, fmt.Errorf("job layout in %s: %w", filename, err)
		}
		if layout.Testsuite.Name == "" || layout.Profile.Name == "" || layout.Host.Name == "" {
			return nil, fmt.Errorf("job layout in %s must name testsuite, profile and host", filename)
		}
		layouts = append(layouts, &layout)
	}

	name := strings.TrimSuffix(filepath.Base(filename), planSuffix)
	plan := models.NewTestplan(name, layouts...)
	plan.Description = properties.Description
	for k, v := range properties.Variables {
		plan.Variables[k] = v
	}
	return plan, nil
}
