package actor

import (
	"bms/internal/core/domain"
	"bms/internal/core/port"
)

// CompositeEventSink fans a single port.EventSink call out to every
// sink it wraps, so MasterOfPuppetsActor can hand the monitor one
// port.EventSink while actually composing MQTTEventSinkClient with
// RecorderEventSinkClient (or any other combination) behind it.
type CompositeEventSink struct {
	sinks []port.EventSink
}

func NewCompositeEventSink(sinks ...port.EventSink) *CompositeEventSink {
	return &CompositeEventSink{sinks: sinks}
}

func (c *CompositeEventSink) EmitSnapshot(snapshot domain.EngineSnapshot) error {
	var firstErr error
	for _, s := range c.sinks {
		if err := s.EmitSnapshot(snapshot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *CompositeEventSink) EmitCalibrationProgress(test, numTests int) error {
	var firstErr error
	for _, s := range c.sinks {
		if err := s.EmitCalibrationProgress(test, numTests); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.EventSink = (*CompositeEventSink)(nil)
