package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-suite/types"
)

// JUnitSink accumulates group results and writes one consolidated JUnit
// XML file for the run. Each group maps to one testcase; CI systems that
// understand JUnit pick the file up without further glue.
type JUnitSink struct {
	baseDir string
	results []*types.GroupResult
	skipped []types.SkippedGroup
}

// NewJUnitSink creates a sink writing junit.xml under baseDir.
func NewJUnitSink(baseDir string) *JUnitSink {
	return &JUnitSink{baseDir: baseDir}
}

// AddSkipped records groups that were filtered out before execution so
// they appear as skipped testcases.
func (s *JUnitSink) AddSkipped(skipped []types.SkippedGroup) {
	s.skipped = append(s.skipped, skipped...)
}

// Consume collects one group result for the final document.
func (s *JUnitSink) Consume(result *types.GroupResult) error {
	s.results = append(s.results, result)
	return nil
}

type junitTestSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name    string        `xml:"name,attr"`
	Time    string        `xml:"time,attr"`
	Failure *junitFailure `xml:"failure,omitempty"`
	Skipped *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Output  string `xml:",cdata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

// Complete writes the consolidated junit.xml.
func (s *JUnitSink) Complete(runID string) error {
	suite := junitSuite{Name: "op-suite run " + runID}
	var total time.Duration

	for _, res := range s.results {
		total += res.Duration
		tc := junitCase{
			Name: res.Name,
			Time: fmt.Sprintf("%.3f", res.Duration.Seconds()),
		}
		if !res.Status.Passed() {
			tc.Failure = &junitFailure{
				Message: fmt.Sprintf("group exited with status %s", res.Status),
				Output:  string(res.Output),
			}
			suite.Failures++
		}
		suite.Cases = append(suite.Cases, tc)
	}
	for _, sk := range s.skipped {
		suite.Cases = append(suite.Cases, junitCase{
			Name:    sk.Name,
			Time:    "0.000",
			Skipped: &junitSkipped{Message: fmt.Sprintf("missing requirements: %v", sk.Missing)},
		})
		suite.Skipped++
	}
	suite.Tests = len(suite.Cases)
	suite.Time = fmt.Sprintf("%.3f", total.Seconds())

	doc := junitTestSuites{
		Tests:    suite.Tests,
		Failures: suite.Failures,
		Skipped:  suite.Skipped,
		Time:     suite.Time,
		Suites:   []junitSuite{suite},
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal junit report: %w", err)
	}
	path := filepath.Join(s.baseDir, "junit.xml")
	if err := os.WriteFile(path, append([]byte(xml.Header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	return nil
}
