// Package reports renders job and plan statuses into human-readable text
// reports and JUnit XML for CI consumption.
package reports

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"

	"github.com/ternarybob/igor/internal/jobs"
)

var reportFuncs = template.FuncMap{
	"underline": func(s, char string) string {
		return s + "\n" + strings.Repeat(char, len(s))
	},
	"indent": func(s string) string {
		lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
		for i, l := range lines {
			lines[i] = "      " + l
		}
		return strings.Join(lines, "\n")
	},
}

var jobReportTmpl = template.Must(template.New("job").Funcs(reportFuncs).Parse(
	`{{underline (printf "Report for job %s" .ID) "="}}

:Testsuite: {{.Testsuite.Name}}
:Profile:   {{.Profile}}
:Host:      {{.Host}}
:State:     {{.State}}
:Runtime:   {{printf "%.1f" .Runtime}}s of {{.Timeout}}s

{{underline "Steps" "-"}}
{{range $n, $r := .Results}}
{{$n}}. {{$r.Testcase.Name}}: {{if $r.IsSkipped}}skipped{{else if $r.IsAbort}}aborted{{else if $r.IsPassed}}passed{{else}}failed{{end}} ({{printf "%.1f" $r.Runtime}}s)
{{- if $r.Note}}
   note: {{$r.Note}}{{end}}
{{- if not $r.IsPassed}}
   log::

{{indent $r.Log}}{{end}}
{{end}}`))

var planReportTmpl = template.Must(template.New("plan").Funcs(reportFuncs).Parse(
	`{{underline (printf "Report for plan %s (%d)" .Name .PlanID) "="}}

:Status: {{.Status}}
:Passed: {{.Passed}}

{{underline "Jobs" "-"}}
{{range $n, $j := .Jobs}}
{{$n}}. {{if $j.Cookie}}{{$j.Cookie}}: {{$j.State}}{{else}}(no job created){{end}}
{{- if $j.Error}}
   error: {{$j.Error}}{{end}}
{{end}}`))

// JobReport renders the plain-text report of one job.
func JobReport(snapshot *jobs.Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := jobReportTmpl.Execute(&buf, snapshot); err != nil {
		return "", fmt.Errorf("render job report: %w", err)
	}
	return buf.String(), nil
}

// PlanReport renders the plain-text report of one plan run.
func PlanReport(status *jobs.PlanStatus) (string, error) {
	var buf bytes.Buffer
	if err := planReportTmpl.Execute(&buf, status); err != nil {
		return "", fmt.Errorf("render plan report: %w", err)
	}
	return buf.String(), nil
}

// JUnit document model. Shaped the way CI systems expect it.

type junitFailure struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",cdata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

type junitTestcase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitTestsuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	Testcases []junitTestcase `xml:"testcase"`
}

type junitTestsuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Name    string           `xml:"name,attr"`
	Suites  []junitTestsuite `xml:"testsuite"`
}

func junitSuiteFromJob(snapshot *jobs.Snapshot) junitTestsuite {
	suite := junitTestsuite{
		Name:  fmt.Sprintf("%s-on-%s", snapshot.Testsuite.Name, snapshot.Host),
		Tests: len(snapshot.Results),
		Time:  fmt.Sprintf("%.1f", snapshot.Runtime),
	}
	for _, r := range snapshot.Results {
		tc := junitTestcase{
			Name:      r.Testcase.Name,
			Classname: snapshot.Testsuite.Name,
			Time:      fmt.Sprintf("%.1f", r.Runtime),
		}
		switch {
		case r.IsSkipped:
			suite.Skipped++
			tc.Skipped = &junitSkipped{Message: r.Note}
		case !r.IsPassed:
			suite.Failures++
			tc.Failure = &junitFailure{Message: r.Note, Body: r.Log}
		}
		suite.Testcases = append(suite.Testcases, tc)
	}
	return suite
}

// JobJUnit renders the JUnit XML report of one job.
func JobJUnit(snapshot *jobs.Snapshot) ([]byte, error) {
	return marshalJUnit(junitSuiteFromJob(snapshot))
}

// PlanJUnit renders the JUnit XML report of a plan run, one testsuite
// element per job that was created.
func PlanJUnit(status *jobs.PlanStatus, jobSnapshots []*jobs.Snapshot) ([]byte, error) {
	doc := junitTestsuites{Name: status.Name}
	for _, snapshot := range jobSnapshots {
		doc.Suites = append(doc.Suites, junitSuiteFromJob(snapshot))
	}
	return marshalJUnit(doc)
}

func marshalJUnit(doc interface{}) ([]byte, error) {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render junit: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
