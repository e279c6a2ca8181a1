package relay

import (
	"testing"
	"time"

	relaymocks "github.com/BearBump/FreightDesk/internal/services/relay/mocks"
	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay() {
	p := NewPlanner(DefaultPlannerConfig(), &relaymocks.Rand{})
	s.Equal(5*time.Second, p.BackoffDelay(1))
	s.Equal(30*time.Second, p.BackoffDelay(2))
	s.Equal(2*time.Minute, p.BackoffDelay(3))
	s.Equal(10*time.Minute, p.BackoffDelay(4))
	s.Equal(10*time.Minute, p.BackoffDelay(100))
}

func (s *PlannerSuite) TestBackoffDelay_Jitter() {
	m := &relaymocks.Rand{}
	m.On("Intn", 11).Return(7).Once()

	p := NewPlanner(PlannerConfig{MaxJitter: 10 * time.Second}, m)
	s.Equal(12*time.Second, p.BackoffDelay(1))
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestZeroConfigUsesDefaults() {
	p := NewPlanner(PlannerConfig{}, nil)
	s.Equal(DefaultPlannerConfig(), p.cfg)
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
