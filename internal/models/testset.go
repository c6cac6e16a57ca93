package models

// Testset is an ordered list of testcases plus the library trees they share.
type Testset struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Libs        map[string]string `json:"libs" yaml:"libs"` // lib name -> filesystem path
	Testcases   []*Testcase       `json:"testcases" yaml:"testcases"`
}

// NewTestset creates a testset with the given cases.
func NewTestset(name string, testcases ...*Testcase) *Testset {
	return &Testset{
		Name:      name,
		Libs:      map[string]string{},
		Testcases: testcases,
	}
}

// Timeout is the sum of the timeouts of all testcases in this set, in
// seconds.
func (s *Testset) Timeout() int {
	total := 0
	for _, c := range s.Testcases {
		total += c.Timeout
	}
	return total
}
