package port

import "bms/internal/core/domain"

// SwitchPort is the switch-matrix collaborator from spec.md §6. battery
// is 1-based; 0 means "disconnect whatever is currently connected to dest".
type SwitchPort interface {
	SetSwitch(battery int, dest domain.Destination) error
	GetSwitchControlBits() (uint32, error)
	SetSwitchControlBits(bits uint32) error
	OverCurrentReset(iface int) error
	OverCurrentRelease(iface int) error
}
