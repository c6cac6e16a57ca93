package models

import (
	"github.com/ternarybob/igor/internal/interfaces"
)

// JobSpec is a fully resolved job description: real entity references, not
// names. Produced either by the submit endpoint or by a testplan layout.
type JobSpec struct {
	Testsuite       *Testsuite
	Profile         interfaces.Profile
	Host            interfaces.Host
	AdditionalKargs string
}
