package port

import (
	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
)

// ConfigPort persists the engine's mutable configuration (current offsets
// and policy bits) back to the configuration collaborator. Failure is
// non-fatal per spec.md §7: the in-RAM configuration remains authoritative
// until the next successful write.
type ConfigPort interface {
	PersistCurrentOffsets(offsets []fixedpoint.Q8) error
	PersistMonitorStrategy(strategy domain.MonitorStrategy) error
}
