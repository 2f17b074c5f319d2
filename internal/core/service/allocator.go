package service

import (
	"sort"
	"time"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
)

// Decision status bits, spec.md §4.3 and §8's scenarios.
const (
	StatusChargerIsolatable      uint16 = 0x01 // C4
	StatusChargerIgnoreIsolation uint16 = 0x02 // C5
	StatusChargerHysteresis      uint16 = 0x03 // C6 (C4 or C5, then moved)
	StatusChargerWeak            uint16 = 0x04 // C3
	StatusChargerCritical        uint16 = 0x08 // C2
	StatusLoadIsolatable         uint16 = 0x10 // L4
	StatusLoadIgnoreIsolation    uint16 = 0x20 // L5
	StatusLoadIgnoreSeparation   uint16 = 0x40 // L6
	StatusLoadRefine             uint16 = 0x30 // L7 (L4 or L5, then refined)
	StatusLoadFallback           uint16 = 0x80 // L8
	StatusPanelUndervoltage      uint16 = 0x100 // D3
	StatusAllFloat               uint16 = 0x200 // D4
)

// SwitchWrite is one intended setSwitch call from the O4 post-pass. Battery
// 0 means "disconnect whatever is currently connected to dest".
type SwitchWrite struct {
	Battery     int
	Destination domain.Destination
}

// PhaseWrite is one intended setBatteryChargingPhase call from the D1
// float->bulk override.
type PhaseWrite struct {
	Battery int
	Phase   domain.ChargingPhase
}

// AllocationInput carries everything Allocate needs beyond the persistent
// domain.AllocatorState and the battery slice it mutates in place.
type AllocationInput struct {
	Policy       domain.MonitorStrategy
	PanelVoltage fixedpoint.Q8
	Temperature  fixedpoint.Q8
	Thresholds   domain.Thresholds
	AutoTrack    bool
	MonitorDelay time.Duration
}

// AllocationResult carries everything the allocator decided that is not
// already reflected in the mutated domain.AllocatorState and battery slice.
type AllocationResult struct {
	DecisionStatus       uint16
	PhaseWrites          []PhaseWrite
	SwitchWrites         []SwitchWrite
	PreferredPanelTarget int
}

// Allocate runs the allocator (spec.md §4.3) for one monitor tick. It
// mutates state and the OpState/IsolationTime fields of batteries in
// place (plus Phase on a D1 override and SoC on an O2 OCV refresh), and
// returns the writes the caller must apply to the charger and switch
// collaborators (and the charger-phase writes from D1).
func Allocate(state *domain.AllocatorState, batteries []*domain.Battery, in AllocationInput) AllocationResult {
	res := AllocationResult{}

	// P1
	for _, b := range batteries {
		if b.HealthState != domain.Missing {
			continue
		}
		idx1 := b.Index + 1
		if state.BatteryUnderCharge == idx1 {
			state.BatteryUnderCharge = 0
		}
		if state.BatteryUnderLoad == idx1 {
			state.BatteryUnderLoad = 0
		}
	}

	// P2
	present := make([]*domain.Battery, 0, len(batteries))
	for _, b := range batteries {
		if b.HealthState != domain.Missing {
			present = append(present, b)
		}
	}
	numBats := len(present)

	// P7: rank non-missing batteries by descending SoC, stable.
	ranked := append([]*domain.Battery(nil), present...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].SoC > ranked[j].SoC })

	// P8
	longest := longestIsolated(present)

	// D1
	for _, b := range present {
		if b.Phase == domain.Float && b.SoC < in.Thresholds.FloatBulkSoC {
			b.Phase = domain.Bulk
			res.PhaseWrites = append(res.PhaseWrites, PhaseWrite{Battery: b.Index + 1, Phase: domain.Bulk})
		}
	}

	// D2
	if state.BatteryUnderCharge != 0 {
		if cb := find(present, state.BatteryUnderCharge); cb != nil && (cb.Phase == domain.Float || cb.Phase == domain.Rest) {
			state.BatteryUnderCharge = 0
		}
	}

	// D3
	if allAtOrAbovePanelMargin(present, in.PanelVoltage) {
		state.ChargerOff = true
		state.BatteryUnderCharge = 0
		res.DecisionStatus |= StatusPanelUndervoltage
	}

	// D4
	if numBats > 0 && allInFloat(present) {
		state.ChargerOff = true
		state.BatteryUnderCharge = 0
		res.DecisionStatus |= StatusAllFloat
	}

	switch {
	case numBats == 1:
		single := present[0]
		if !state.ChargerOff {
			state.BatteryUnderCharge = single.Index + 1
		}
		state.BatteryUnderLoad = single.Index + 1
		if single.HealthState == domain.Weak {
			state.BatteryUnderLoad = 0
		}
	case numBats > 1:
		isolatable := numBats > 2

		if !state.ChargerOff {
			allocateCharger(state, ranked, longest, in.Policy, isolatable, &res)
		}
		allocateLoad(state, ranked, longest, in.Policy, isolatable, &res)
	default:
		state.BatteryUnderCharge = 0
		state.BatteryUnderLoad = 0
	}

	// O1-O3
	for _, b := range present {
		lastOpState := b.OpState
		b.OpState = domain.Isolated
		if state.BatteryUnderLoad == b.Index+1 {
			b.OpState = domain.Loaded
		}
		if state.BatteryUnderCharge == b.Index+1 {
			b.OpState = domain.Charging
		}

		if lastOpState == domain.Isolated && b.OpState != domain.Isolated && b.IsolationTime > ticksIn(4*time.Hour, in.MonitorDelay) {
			b.SoC = fixedpoint.ComputeSoC(b.Voltage, in.Temperature, b.Type.IsWetChemistry())
			b.IsolationTime = 0
		}

		concurrentChargeAndLoad := state.BatteryUnderLoad != 0 &&
			state.BatteryUnderLoad == state.BatteryUnderCharge &&
			state.BatteryUnderLoad == b.Index+1
		if b.OpState != domain.Isolated || concurrentChargeAndLoad {
			b.IsolationTime = IsolationSentinel
		}
	}

	// O4
	if in.AutoTrack {
		res.SwitchWrites = append(res.SwitchWrites, SwitchWrite{Battery: state.BatteryUnderLoad, Destination: domain.Load2})

		if loaded := find(present, state.BatteryUnderLoad); loaded != nil && loaded.FillState == domain.FillCritical {
			res.SwitchWrites = append(res.SwitchWrites, SwitchWrite{Battery: 0, Destination: domain.Load1})
		} else {
			res.SwitchWrites = append(res.SwitchWrites, SwitchWrite{Battery: state.BatteryUnderLoad, Destination: domain.Load1})
		}

		if in.Temperature < in.Thresholds.TemperatureLimit {
			res.SwitchWrites = append(res.SwitchWrites, SwitchWrite{Battery: state.BatteryUnderCharge, Destination: domain.Panel})
		}
		res.PreferredPanelTarget = state.BatteryUnderCharge
	}

	return res
}

func find(batteries []*domain.Battery, idx1 int) *domain.Battery {
	if idx1 == 0 {
		return nil
	}
	for _, b := range batteries {
		if b.Index+1 == idx1 {
			return b
		}
	}
	return nil
}

func longestIsolated(present []*domain.Battery) *domain.Battery {
	var best *domain.Battery
	for _, b := range present {
		if best == nil || b.IsolationTime > best.IsolationTime {
			best = b
		}
	}
	return best
}

func allAtOrAbovePanelMargin(present []*domain.Battery, panelVoltage fixedpoint.Q8) bool {
	if len(present) == 0 {
		return false
	}
	margin := panelVoltage + 128
	for _, b := range present {
		if b.Voltage < margin {
			return false
		}
	}
	return true
}

func allInFloat(present []*domain.Battery) bool {
	for _, b := range present {
		if b.Phase != domain.Float {
			return false
		}
	}
	return true
}

// scanFromLowest iterates present batteries from lowest SoC to highest
// (the reverse of the descending ranking), returning the first one for
// which accept returns true.
func scanFromLowest(ranked []*domain.Battery, accept func(*domain.Battery) bool) *domain.Battery {
	for i := len(ranked) - 1; i >= 0; i-- {
		if accept(ranked[i]) {
			return ranked[i]
		}
	}
	return nil
}

// scanFromHighest iterates present batteries from highest SoC to lowest,
// returning the first one for which accept returns true.
func scanFromHighest(ranked []*domain.Battery, accept func(*domain.Battery) bool) *domain.Battery {
	for _, b := range ranked {
		if accept(b) {
			return b
		}
	}
	return nil
}

func allocateCharger(state *domain.AllocatorState, ranked []*domain.Battery, longest *domain.Battery, policy domain.MonitorStrategy, isolatable bool, res *AllocationResult) {
	if len(ranked) == 0 {
		return
	}
	lowest := ranked[len(ranked)-1]

	// C1
	if lowest.FillState != domain.FillNormal {
		state.BatteryUnderCharge = 0
	}

	// C2
	if lowest.FillState == domain.FillCritical {
		state.BatteryUnderCharge = lowest.Index + 1
		res.DecisionStatus |= StatusChargerCritical
	}

	// C3
	if weak := scanFromLowest(ranked, func(b *domain.Battery) bool { return b.HealthState == domain.Weak }); weak != nil {
		state.BatteryUnderCharge = weak.Index + 1
		res.DecisionStatus |= StatusChargerWeak
	}

	usedC4OrC5 := false
	if state.BatteryUnderCharge == 0 && isolatable {
		if c := scanFromLowest(ranked, func(b *domain.Battery) bool {
			if b.Phase == domain.Float || b.Phase == domain.Rest {
				return false
			}
			if policy.Has(domain.PreserveIsolation) && longest != nil && b.Index == longest.Index {
				return false
			}
			return true
		}); c != nil {
			state.BatteryUnderCharge = c.Index + 1
			res.DecisionStatus |= StatusChargerIsolatable
			usedC4OrC5 = true
		}
	}

	if state.BatteryUnderCharge == 0 {
		if c := scanFromLowest(ranked, func(b *domain.Battery) bool {
			return b.Phase != domain.Float && b.Phase != domain.Rest
		}); c != nil {
			state.BatteryUnderCharge = c.Index + 1
			res.DecisionStatus |= StatusChargerIgnoreIsolation
			usedC4OrC5 = true
		}
	}

	// C6
	if usedC4OrC5 {
		if charging := find(ranked, state.BatteryUnderCharge); charging != nil && charging.FillState == domain.FillNormal {
			if better := scanFromLowest(ranked, func(b *domain.Battery) bool {
				if b.Phase == domain.Float || b.Phase == domain.Rest {
					return false
				}
				return b.SoC < charging.SoC-SoCHysteresis
			}); better != nil {
				state.BatteryUnderCharge = better.Index + 1
				res.DecisionStatus |= StatusChargerHysteresis
			}
		}
	}
}

func allocateLoad(state *domain.AllocatorState, ranked []*domain.Battery, longest *domain.Battery, policy domain.MonitorStrategy, isolatable bool, res *AllocationResult) {
	// L1
	if state.BatteryUnderLoad != 0 && state.BatteryUnderLoad == state.BatteryUnderCharge && policy.Has(domain.SeparateLoad) {
		state.BatteryUnderLoad = 0
	}

	// L2, L3
	if loaded := find(ranked, state.BatteryUnderLoad); loaded != nil {
		if loaded.HealthState == domain.Weak || loaded.FillState != domain.FillNormal {
			state.BatteryUnderLoad = 0
		}
	}

	// L4
	if state.BatteryUnderLoad == 0 && isolatable {
		if c := scanFromHighest(ranked, func(b *domain.Battery) bool {
			if b.HealthState == domain.Weak {
				return false
			}
			if policy.Has(domain.PreserveIsolation) && longest != nil && b.Index == longest.Index {
				return false
			}
			if policy.Has(domain.SeparateLoad) && b.Index+1 == state.BatteryUnderCharge {
				return false
			}
			return true
		}); c != nil {
			state.BatteryUnderLoad = c.Index + 1
			res.DecisionStatus |= StatusLoadIsolatable
		}
	}

	// L5
	if state.BatteryUnderLoad == 0 {
		if c := scanFromHighest(ranked, func(b *domain.Battery) bool {
			if b.HealthState == domain.Weak {
				return false
			}
			if policy.Has(domain.SeparateLoad) && b.Index+1 == state.BatteryUnderCharge {
				return false
			}
			return true
		}); c != nil {
			state.BatteryUnderLoad = c.Index + 1
			res.DecisionStatus |= StatusLoadIgnoreIsolation
		}
	}

	// L6
	if state.BatteryUnderLoad == 0 {
		if c := scanFromHighest(ranked, func(b *domain.Battery) bool {
			return b.HealthState != domain.Weak
		}); c != nil {
			state.BatteryUnderLoad = c.Index + 1
			res.DecisionStatus |= StatusLoadIgnoreSeparation
		}
	}

	// L7
	if loaded := find(ranked, state.BatteryUnderLoad); loaded != nil && loaded.FillState != domain.FillNormal && state.BatteryUnderCharge != 0 {
		if charging := find(ranked, state.BatteryUnderCharge); charging != nil {
			if c := scanFromLowest(ranked, func(b *domain.Battery) bool {
				if b.HealthState == domain.Weak || b.Index+1 == state.BatteryUnderCharge {
					return false
				}
				return b.SoC < charging.SoC-SoCHysteresis
			}); c != nil {
				state.BatteryUnderLoad = c.Index + 1
				res.DecisionStatus |= StatusLoadRefine
			}
		}
	}

	// L8
	if loaded := find(ranked, state.BatteryUnderLoad); loaded != nil && loaded.FillState == domain.FillCritical && state.BatteryUnderCharge != 0 {
		if charging := find(ranked, state.BatteryUnderCharge); charging != nil && charging.HealthState != domain.Weak {
			state.BatteryUnderLoad = charging.Index + 1
			res.DecisionStatus |= StatusLoadFallback
		}
	}
}
