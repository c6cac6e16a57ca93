// Package inventory is the central registry of igor entities. Entities come
// from origins; several origins can serve the same category, and the load
// order of the origins decides lookup priority.
package inventory

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/igor/internal/interfaces"
	"github.com/ternarybob/igor/internal/models"
)

// Entity categories.
const (
	CategoryPlans      = "plans"
	CategoryTestsuites = "testsuites"
	CategoryProfiles   = "profiles"
	CategoryHosts      = "hosts"
)

type registeredOrigin struct {
	name   string
	origin interfaces.Origin
}

// Inventory keeps one origin registry per category.
type Inventory struct {
	origins map[string][]registeredOrigin
	logger  arbor.ILogger
}

// New creates an empty inventory.
func New(logger arbor.ILogger) *Inventory {
	return &Inventory{
		origins: map[string][]registeredOrigin{
			CategoryPlans:      {},
			CategoryTestsuites: {},
			CategoryProfiles:   {},
			CategoryHosts:      {},
		},
		logger: logger,
	}
}

// AddOrigin registers an origin for a category. Registration order is the
// lookup priority.
func (i *Inventory) AddOrigin(category, name string, origin interfaces.Origin) error {
	if _, ok := i.origins[category]; !ok {
		return fmt.Errorf("unknown category: %s", category)
	}
	i.origins[category] = append(i.origins[category], registeredOrigin{name: name, origin: origin})
	i.logger.Info().Str("category", category).Str("origin", name).Msg("Origin registered")
	return nil
}

// Items merges the items of all origins of a category. An entity name that
// appears in more than one origin is fatal.
func (i *Inventory) Items(category string) (map[string]interface{}, error) {
	regs, ok := i.origins[category]
	if !ok {
		return nil, fmt.Errorf("unknown category: %s", category)
	}
	all := map[string]interface{}{}
	for _, reg := range regs {
		items, err := reg.origin.Items()
		if err != nil {
			return nil, fmt.Errorf("origin %s: %w", reg.name, err)
		}
		for name, item := range items {
			if _, exists := all[name]; exists {
				return nil, fmt.Errorf("item name is not unique over all %s origins: %s", category, name)
			}
			all[name] = item
		}
	}
	return all, nil
}

// Lookup queries each origin of a category in priority order and returns the
// first hit, or nil.
func (i *Inventory) Lookup(category, name string) (interface{}, error) {
	regs, ok := i.origins[category]
	if !ok {
		return nil, fmt.Errorf("unknown category: %s", category)
	}
	for _, reg := range regs {
		item, err := reg.origin.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("origin %s: %w", reg.name, err)
		}
		if item != nil {
			return item, nil
		}
	}
	return nil, nil
}

// Check exercises every registry once, surfacing duplicate names and broken
// origins at startup.
func (i *Inventory) Check() error {
	for _, category := range []string{CategoryPlans, CategoryTestsuites, CategoryProfiles, CategoryHosts} {
		items, err := i.Items(category)
		if err != nil {
			return err
		}
		i.logger.Debug().Str("category", category).Int("count", len(items)).Msg("Inventory category checked")
	}
	return nil
}

// CreateProfile creates a profile in the first profile origin that supports
// creation.
func (i *Inventory) CreateProfile(name string, kernel, initrd, kargs []byte) error {
	for _, reg := range i.origins[CategoryProfiles] {
		if creator, ok := reg.origin.(interfaces.ProfileCreator); ok {
			return creator.CreateProfile(name, kernel, initrd, kargs)
		}
	}
	return fmt.Errorf("no profile origin supports creation")
}

// Typed accessors. They also back models.PlanResolver.

// Testsuite returns the named suite, or nil if unknown.
func (i *Inventory) Testsuite(name string) (*models.Testsuite, error) {
	item, err := i.Lookup(CategoryTestsuites, name)
	if err != nil || item == nil {
		return nil, err
	}
	suite, ok := item.(*models.Testsuite)
	if !ok {
		return nil, fmt.Errorf("testsuite origin returned a %T", item)
	}
	return suite, nil
}

// Testplan returns the named plan, or nil if unknown.
func (i *Inventory) Testplan(name string) (*models.Testplan, error) {
	item, err := i.Lookup(CategoryPlans, name)
	if err != nil || item == nil {
		return nil, err
	}
	plan, ok := item.(*models.Testplan)
	if !ok {
		return nil, fmt.Errorf("testplan origin returned a %T", item)
	}
	return plan, nil
}

// Profile returns the named profile, or nil if unknown.
func (i *Inventory) Profile(name string) (interfaces.Profile, error) {
	item, err := i.Lookup(CategoryProfiles, name)
	if err != nil || item == nil {
		return nil, err
	}
	profile, ok := item.(interfaces.Profile)
	if !ok {
		return nil, fmt.Errorf("profile origin returned a %T", item)
	}
	return profile, nil
}

// Host returns the named host, or nil if unknown.
func (i *Inventory) Host(name string) (interfaces.Host, error) {
	item, err := i.Lookup(CategoryHosts, name)
	if err != nil || item == nil {
		return nil, err
	}
	host, ok := item.(interfaces.Host)
	if !ok {
		return nil, fmt.Errorf("host origin returned a %T", item)
	}
	return host, nil
}

// ResolveTestsuite implements models.PlanResolver; unknown names are errors.
func (i *Inventory) ResolveTestsuite(name string) (*models.Testsuite, error) {
	suite, err := i.Testsuite(name)
	if err != nil {
		return nil, err
	}
	if suite == nil {
		return nil, fmt.Errorf("unknown testsuite: %s", name)
	}
	return suite, nil
}

// ResolveProfile implements models.PlanResolver.
func (i *Inventory) ResolveProfile(name string) (interfaces.Profile, error) {
	profile, err := i.Profile(name)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("unknown profile: %s", name)
	}
	return profile, nil
}

// ResolveHost implements models.PlanResolver.
func (i *Inventory) ResolveHost(name string) (interfaces.Host, error) {
	host, err := i.Host(name)
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, fmt.Errorf("unknown host: %s", name)
	}
	return host, nil
}
