package harness

// TraceEvent is one environment operation performed during a test.
// Addresses are rendered as @handle, $actor or hex.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`
	Subject string `json:"subject"`
	Target  string `json:"target,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Outcome string `json:"outcome"`
}

// TestResult is the outcome of one isolated test.
type TestResult struct {
	Name string `json:"name"`

	// Pass is true when the body returned nil and no assertion failed.
	Pass bool `json:"pass"`

	// Failures holds assertion failures and the body error, in order.
	Failures []string `json:"failures,omitempty"`

	// Trace contains the operations performed through the harness.
	Trace []TraceEvent `json:"trace"`
}

// Report summarizes a run of several tests.
type Report struct {
	Suite   string        `json:"suite"`
	Results []*TestResult `json:"results"`
	Passed  int           `json:"passed"`
	Failed  int           `json:"failed"`

	// Skipped lists tests that never ran because the suite aborted.
	Skipped []string `json:"skipped,omitempty"`

	// Aborted holds the fatal error that stopped the suite.
	Aborted string `json:"aborted,omitempty"`
}

// Pass reports whether every test ran and passed.
func (r *Report) Pass() bool {
	return r.Failed == 0 && r.Aborted == "" && len(r.Skipped) == 0
}

func (r *Report) add(res *TestResult) {
	r.Results = append(r.Results, res)
	if res.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}
