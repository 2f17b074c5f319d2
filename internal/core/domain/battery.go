package domain

import "bms/internal/core/fixedpoint"

// BatteryType selects which branch of fixedpoint.ComputeSoC's piecewise
// OCV model applies to a battery.
type BatteryType int

const (
	Wet BatteryType = iota
	Gel
	Agm
)

func (t BatteryType) IsWetChemistry() bool {
	return t == Wet
}

func (t BatteryType) String() string {
	switch t {
	case Wet:
		return "wet"
	case Gel:
		return "gel"
	case Agm:
		return "agm"
	default:
		return "unknown"
	}
}

// FillState tracks how full a battery's charge bucket is, independent of
// whether it is currently being charged or discharged.
type FillState int

const (
	FillNormal FillState = iota
	FillLow
	FillCritical
	FillFaulty
)

func (s FillState) String() string {
	switch s {
	case FillNormal:
		return "normal"
	case FillLow:
		return "low"
	case FillCritical:
		return "critical"
	case FillFaulty:
		return "faulty"
	default:
		return "unknown"
	}
}

// OpState is the battery's role for the current tick: disconnected,
// serving a load, or accepting charge.
type OpState int

const (
	Isolated OpState = iota
	Loaded
	Charging
)

func (s OpState) String() string {
	switch s {
	case Isolated:
		return "isolated"
	case Loaded:
		return "loaded"
	case Charging:
		return "charging"
	default:
		return "unknown"
	}
}

// HealthState reflects whether a battery is trustworthy for allocation.
type HealthState int

const (
	Good HealthState = iota
	Faulty
	Missing
	Weak
)

func (s HealthState) String() string {
	switch s {
	case Good:
		return "good"
	case Faulty:
		return "faulty"
	case Missing:
		return "missing"
	case Weak:
		return "weak"
	default:
		return "unknown"
	}
}

// ChargingPhase is maintained by the charger collaborator; the allocator
// only reads it (except for the D1 float->bulk override, applied through
// port.ChargerPort).
type ChargingPhase int

const (
	Bulk ChargingPhase = iota
	Absorption
	Rest
	Float
)

func (p ChargingPhase) String() string {
	switch p {
	case Bulk:
		return "bulk"
	case Absorption:
		return "absorption"
	case Rest:
		return "rest"
	case Float:
		return "float"
	default:
		return "unknown"
	}
}

// MonitorStrategy is the policy bitfield from spec.md §3.
type MonitorStrategy uint8

const (
	SeparateLoad       MonitorStrategy = 1 << 0
	PreserveIsolation  MonitorStrategy = 1 << 1
)

func (s MonitorStrategy) Has(flag MonitorStrategy) bool {
	return s&flag != 0
}

// Destination names a switchable consumer of battery current.
type Destination int

const (
	Load1 Destination = iota
	Load2
	Panel
)

// Battery is the mutable per-slot record the monitor owns. Index is the
// battery's 0-based slot; allocator outputs (batteryUnderCharge/Load) use
// 1-based indices with 0 meaning "unallocated", per spec.md §3.
type Battery struct {
	Index int

	SoC    fixedpoint.Q8 // percent x 256, [0, 25600]
	Charge fixedpoint.Q8 // coulombs x 256, [0, capacity*3600*256]

	Voltage fixedpoint.Q8 // last-read terminal voltage, Q8 volts
	Current fixedpoint.Q8 // last-read current, Q8 amps

	FillState   FillState
	OpState     OpState
	HealthState HealthState
	Phase       ChargingPhase

	CurrentSteady int // ticks with |current| below the idle threshold
	IsolationTime int // ticks since OpState last became Isolated

	Capacity int32 // Ah
	Type     BatteryType
}

// AllocatorState is the process-wide allocator globals from spec.md §3,
// mutated only by the monitor tick.
type AllocatorState struct {
	BatteryUnderCharge int // 1-based; 0 = unallocated
	BatteryUnderLoad   int
	ChargerOff         bool
	CalibrateRequested bool
}

// Interface is a single current-measuring point (battery, load or panel)
// that carries its own calibration offset in raw ADC units.
type Interface struct {
	Index  int
	Offset fixedpoint.Q8
}
