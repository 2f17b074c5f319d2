package port

import "bms/internal/core/domain"

// EventSink is the outbound event collaborator from spec.md §6. Emission
// must never block the caller beyond a short bound. The implementations in
// this repository hand each event to an actor's unbounded mailbox and
// return at once, so a sink that cannot keep up builds a backlog; no
// message is dropped.
type EventSink interface {
	EmitSnapshot(snapshot domain.EngineSnapshot) error
	EmitCalibrationProgress(test, numTests int) error
}
