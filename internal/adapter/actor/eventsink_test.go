package actor

import (
	"errors"
	"testing"

	"bms/internal/core/domain"
	"bms/internal/core/port"

	"github.com/stretchr/testify/assert"
)

type spySink struct {
	snapshots []domain.EngineSnapshot
	progress  []int
	err       error
}

func (s *spySink) EmitSnapshot(snapshot domain.EngineSnapshot) error {
	s.snapshots = append(s.snapshots, snapshot)
	return s.err
}

func (s *spySink) EmitCalibrationProgress(test, numTests int) error {
	s.progress = append(s.progress, test)
	return s.err
}

var _ port.EventSink = (*spySink)(nil)

func TestCompositeEventSinkFansOutToEverySink(t *testing.T) {
	a, b := &spySink{}, &spySink{}
	composite := NewCompositeEventSink(a, b)

	snapshot := domain.EngineSnapshot{DecisionStatus: 1}
	assert.NoError(t, composite.EmitSnapshot(snapshot))
	assert.NoError(t, composite.EmitCalibrationProgress(2, 5))

	assert.Equal(t, []domain.EngineSnapshot{snapshot}, a.snapshots)
	assert.Equal(t, []domain.EngineSnapshot{snapshot}, b.snapshots)
	assert.Equal(t, []int{2}, a.progress)
	assert.Equal(t, []int{2}, b.progress)
}

func TestCompositeEventSinkReturnsFirstError(t *testing.T) {
	failing := &spySink{err: errors.New("disk full")}
	ok := &spySink{}
	composite := NewCompositeEventSink(failing, ok)

	err := composite.EmitSnapshot(domain.EngineSnapshot{})
	assert.Error(t, err)
	// both sinks still ran despite the first one's failure.
	assert.Len(t, failing.snapshots, 1)
	assert.Len(t, ok.snapshots, 1)
}
