package models

import "time"

// StepResult records one finished test step.
// IsPassed is IsSuccess XOR the testcase's expect_failure.
type StepResult struct {
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	Testcase    *Testcase `json:"testcase" yaml:"testcase"`
	IsSuccess   bool      `json:"is_success" yaml:"is_success"`
	IsPassed    bool      `json:"is_passed" yaml:"is_passed"`
	IsAbort     bool      `json:"is_abort" yaml:"is_abort"`
	IsSkipped   bool      `json:"is_skipped" yaml:"is_skipped"`
	Note        string    `json:"note" yaml:"note"`
	Runtime     float64   `json:"runtime" yaml:"runtime"` // seconds
	Log         string    `json:"log" yaml:"log"`
	Annotations string    `json:"annotations" yaml:"annotations"`
}
