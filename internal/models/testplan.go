package models

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/igor/internal/interfaces"
)

// PlanResolver looks up the entities a testplan layout names. Implemented
// by the inventory.
type PlanResolver interface {
	ResolveTestsuite(name string) (*Testsuite, error)
	ResolveProfile(name string) (interfaces.Profile, error)
	ResolveHost(name string) (interfaces.Host, error)
}

// LayoutField is one top-level field of a job layout. In the plan file it is
// either a bare string or a [name, property-overrides] pair.
type LayoutField struct {
	Name      string
	Overrides map[string]interface{}
}

// UnmarshalYAML accepts both the bare-string and the [name, overrides] form.
func (f *LayoutField) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&f.Name)
	case yaml.SequenceNode:
		if len(value.Content) != 2 {
			return fmt.Errorf("layout value must be a string or a [name, overrides] pair, got %d items", len(value.Content))
		}
		if err := value.Content[0].Decode(&f.Name); err != nil {
			return err
		}
		return value.Content[1].Decode(&f.Overrides)
	}
	return fmt.Errorf("layout value must be a string or a [name, overrides] pair")
}

// MarshalYAML renders the field back in its compact form.
func (f LayoutField) MarshalYAML() (interface{}, error) {
	if len(f.Overrides) == 0 {
		return f.Name, nil
	}
	return []interface{}{f.Name, f.Overrides}, nil
}

// JobLayout names the testsuite, profile and host of one plan entry, plus
// optional additional kernel arguments.
type JobLayout struct {
	Testsuite       LayoutField `json:"testsuite" yaml:"testsuite"`
	Profile         LayoutField `json:"profile" yaml:"profile"`
	Host            LayoutField `json:"host" yaml:"host"`
	AdditionalKargs LayoutField `json:"additional_kargs,omitempty" yaml:"additional_kargs,omitempty"`
}

// Testplan runs a list of job layouts in sequence. All layout strings
// undergo {var} substitution from Variables before lookup; Variables always
// includes planid once the plan is submitted.
type Testplan struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description" yaml:"description"`
	JobLayouts  []*JobLayout       `json:"job_layouts" yaml:"job_layouts"`
	Variables   map[string]string  `json:"variables" yaml:"variables"`
	PlanID      int                `json:"planid" yaml:"planid"`
}

// NewTestplan creates a plan with the given layouts.
func NewTestplan(name string, layouts ...*JobLayout) *Testplan {
	return &Testplan{
		Name:       name,
		JobLayouts: layouts,
		Variables:  map[string]string{},
	}
}

// EnsurePlanID assigns a random plan id and exposes it to substitution as
// {planid}.
func (p *Testplan) EnsurePlanID() {
	if p.PlanID == 0 {
		p.PlanID = 100 + rand.Intn(9900)
	}
	if p.Variables == nil {
		p.Variables = map[string]string{}
	}
	p.Variables["planid"] = strconv.Itoa(p.PlanID)
}

// CheckSubstitution substitutes every layout field and override value
// without resolving entities. It fails when any {var} remains
// unsubstituted, so a broken plan is rejected before any job is created.
func (p *Testplan) CheckSubstitution() error {
	for _, layout := range p.JobLayouts {
		for _, field := range []LayoutField{layout.Testsuite, layout.Profile, layout.Host, layout.AdditionalKargs} {
			if _, _, err := p.substituteField(field); err != nil {
				return err
			}
		}
	}
	return nil
}

// SpecFromLayout resolves one layout into a JobSpec. Callers iterate the
// layouts and resolve them one at a time, so a later layout can observe
// state created by an earlier job (e.g. a host that was just created).
func (p *Testplan) SpecFromLayout(layout *JobLayout, resolver PlanResolver, logger arbor.ILogger) (*JobSpec, error) {
	spec := &JobSpec{}

	name, overrides, err := p.substituteField(layout.Testsuite)
	if err != nil {
		return nil, err
	}
	suite, err := resolver.ResolveTestsuite(name)
	if err != nil {
		return nil, err
	}
	applyOverrides(suite, overrides, logger)
	spec.Testsuite = suite

	name, overrides, err = p.substituteField(layout.Profile)
	if err != nil {
		return nil, err
	}
	profile, err := resolver.ResolveProfile(name)
	if err != nil {
		return nil, err
	}
	applyOverrides(profile, overrides, logger)
	spec.Profile = profile

	name, overrides, err = p.substituteField(layout.Host)
	if err != nil {
		return nil, err
	}
	host, err := resolver.ResolveHost(name)
	if err != nil {
		return nil, err
	}
	applyOverrides(host, overrides, logger)
	spec.Host = host

	kargs, _, err := p.substituteField(layout.AdditionalKargs)
	if err != nil {
		return nil, err
	}
	spec.AdditionalKargs = kargs

	return spec, nil
}

// Timeout sums the timeouts of all named suites, when a resolver is
// available. Returns 0 otherwise.
func (p *Testplan) Timeout(resolver PlanResolver) int {
	if resolver == nil {
		return 0
	}
	total := 0
	for _, layout := range p.JobLayouts {
		name, _, err := p.substituteField(layout.Testsuite)
		if err != nil {
			continue
		}
		if suite, err := resolver.ResolveTestsuite(name); err == nil {
			total += suite.Timeout()
		}
	}
	return total
}

func (p *Testplan) substituteField(field LayoutField) (string, map[string]interface{}, error) {
	value, err := p.substitute(field.Name)
	if err != nil {
		return "", nil, err
	}

	var overrides map[string]interface{}
	if len(field.Overrides) > 0 {
		overrides = make(map[string]interface{}, len(field.Overrides))
		for k, v := range field.Overrides {
			if s, ok := v.(string); ok {
				subst, err := p.substitute(s)
				if err != nil {
					return "", nil, err
				}
				overrides[k] = subst
			} else {
				overrides[k] = v
			}
		}
	}
	return value, overrides, nil
}

func (p *Testplan) substitute(s string) (string, error) {
	out := s
	for k, v := range p.Variables {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("variables (%v) could not be substituted in plan %s: %q", p.Variables, p.Name, s)
	}
	return out, nil
}

// applyOverrides forwards overrides to entities that declare settable
// properties; unknown keys are dropped with a debug log.
func applyOverrides(entity interface{}, overrides map[string]interface{}, logger arbor.ILogger) {
	if len(overrides) == 0 {
		return
	}
	o, ok := entity.(interfaces.Overridable)
	if !ok {
		if logger != nil {
			logger.Debug().Str("entity", fmt.Sprintf("%T", entity)).Msg("Entity does not accept overrides, dropped")
		}
		return
	}
	ignored := o.ApplyOverrides(overrides)
	if len(ignored) > 0 && logger != nil {
		logger.Debug().Strs("keys", ignored).Msg("Unknown override properties dropped")
	}
}
