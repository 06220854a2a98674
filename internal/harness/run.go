package harness

import (
	"context"
)

// Test is a named body for Run.
type Test struct {
	Name string
	Body Body
}

// Run runs tests one after another through RunIsolated. It stops at the
// first fatal error or when ctx is canceled, lists the remaining tests as
// skipped and returns the error alongside the report.
func (s *Suite) Run(ctx context.Context, tests []Test) (*Report, error) {
	report := &Report{Suite: s.name, Results: []*TestResult{}}
	for i, tc := range tests {
		res, err := s.RunIsolated(ctx, tc.Name, tc.Body)
		if res != nil {
			report.add(res)
		}
		if err != nil {
			report.Aborted = err.Error()
			rest := tests[i+1:]
			if res == nil {
				rest = tests[i:]
			}
			for _, skipped := range rest {
				report.Skipped = append(report.Skipped, skipped.Name)
			}
			return report, err
		}
	}
	return report, nil
}
