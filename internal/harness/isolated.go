package harness

import (
	"context"

	"github.com/stretchr/testify/suite"
)

// IsolatedSuite gives testify suites the same isolation as RunIsolated.
// Embed it and set Harness before the suite runs; every test method then
// starts from the checkpoint taken in Initialize.
//
//	type TreasurySuite struct {
//		harness.IsolatedSuite
//	}
//
//	func TestTreasury(t *testing.T) {
//		s := &TreasurySuite{}
//		s.Harness = harness.New(cfg)
//		suite.Run(t, s)
//	}
type IsolatedSuite struct {
	suite.Suite
	Harness *Suite
}

// SetupSuite initializes the harness.
func (s *IsolatedSuite) SetupSuite() {
	s.Require().NotNil(s.Harness, "IsolatedSuite.Harness is nil")
	s.Require().NoError(s.Harness.Initialize(context.Background()))
}

// TearDownTest restores the checkpoint and takes a new one.
func (s *IsolatedSuite) TearDownTest() {
	h := s.Harness
	h.run.Lock()
	defer h.run.Unlock()

	h.mu.Lock()
	err := h.ready()
	h.mu.Unlock()
	if err != nil {
		return
	}
	if err := h.restore(context.Background()); err != nil {
		h.mu.Lock()
		h.state = stateAborted
		h.mu.Unlock()
		s.FailNow("restore checkpoint", err.Error())
	}
}
