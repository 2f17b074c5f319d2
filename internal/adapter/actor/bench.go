package actor

import (
	"sync"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
	"bms/internal/core/port"
)

// SimulatedBenchAdapter is a deterministic, in-memory stand-in for the
// real Modbus gateway/charger/config collaborators, used by tests and by
// the demo binary. It implements every port the monitor depends on
// directly rather than through an actor mailbox, the same way the
// teacher's TestInverterModbusReader/TestACMeterModbusReader stand in for
// a live Modbus device without touching a socket.
type SimulatedBenchAdapter struct {
	mu sync.Mutex

	numBatteries int
	numLoads     int
	numPanels    int

	voltage     []fixedpoint.Q8
	current     []fixedpoint.Q8
	accumulated []fixedpoint.Q8
	indicators  uint32

	loadVoltage  []fixedpoint.Q8
	loadCurrent  []fixedpoint.Q8
	panelVoltage []fixedpoint.Q8
	panelCurrent []fixedpoint.Q8

	temperature fixedpoint.Q8

	switchBits        uint32
	overCurrentLatch  map[int]bool
	preferredPanel    int
	chargingPhase     []domain.ChargingPhase

	currentOffsets  []fixedpoint.Q8
	monitorStrategy domain.MonitorStrategy
}

func NewSimulatedBenchAdapter(numBatteries, numLoads, numPanels int) *SimulatedBenchAdapter {
	b := &SimulatedBenchAdapter{
		numBatteries:     numBatteries,
		numLoads:         numLoads,
		numPanels:        numPanels,
		voltage:          make([]fixedpoint.Q8, numBatteries),
		current:          make([]fixedpoint.Q8, numBatteries),
		accumulated:      make([]fixedpoint.Q8, numBatteries),
		loadVoltage:      make([]fixedpoint.Q8, numLoads),
		loadCurrent:      make([]fixedpoint.Q8, numLoads),
		panelVoltage:     make([]fixedpoint.Q8, numPanels),
		panelCurrent:     make([]fixedpoint.Q8, numPanels),
		temperature:      fixedpoint.FromInt(25),
		overCurrentLatch: make(map[int]bool),
		chargingPhase:    make([]domain.ChargingPhase, numBatteries),
	}
	for i := range b.voltage {
		b.voltage[i] = 3226 - fixedpoint.Q8(i*10) // ~12.6V, slightly lower per slot
		b.current[i] = 256 + fixedpoint.Q8(i*32)
		b.accumulated[i] = b.current[i]
		b.indicators |= 1 << uint(2*i+1)
	}
	for i := range b.panelVoltage {
		b.panelVoltage[i] = 3840 // ~15V
		b.panelCurrent[i] = 512
	}
	return b
}

func (b *SimulatedBenchAdapter) GetBatteryVoltage(battery int) (fixedpoint.Q8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voltage[battery-1], nil
}

func (b *SimulatedBenchAdapter) GetBatteryCurrent(battery int) (fixedpoint.Q8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current[battery-1], nil
}

// GetBatteryAccumulatedCharge returns the counter and restarts it at one
// tick's worth of the battery's simulated current, so each read only
// reports charge accumulated since the previous read (the destructive-read
// contract of port.MeasurementPort).
func (b *SimulatedBenchAdapter) GetBatteryAccumulatedCharge(battery int) (fixedpoint.Q8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.accumulated[battery-1]
	b.accumulated[battery-1] = b.current[battery-1]
	return v, nil
}

func (b *SimulatedBenchAdapter) GetLoadVoltage(load int) (fixedpoint.Q8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadVoltage[load-1], nil
}

func (b *SimulatedBenchAdapter) GetLoadCurrent(load int) (fixedpoint.Q8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadCurrent[load-1], nil
}

func (b *SimulatedBenchAdapter) GetPanelVoltage(panel int) (fixedpoint.Q8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.panelVoltage[panel-1], nil
}

func (b *SimulatedBenchAdapter) GetPanelCurrent(panel int) (fixedpoint.Q8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.panelCurrent[panel-1], nil
}

func (b *SimulatedBenchAdapter) GetTemperature() (fixedpoint.Q8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.temperature, nil
}

func (b *SimulatedBenchAdapter) GetIndicators() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indicators, nil
}

// SetBatteryPresent flips the indicator bit for battery (1-based), for
// tests that exercise the missing-battery path without a real gateway.
func (b *SimulatedBenchAdapter) SetBatteryPresent(battery int, present bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mask := uint32(1) << uint(2*(battery-1)+1)
	if present {
		b.indicators |= mask
	} else {
		b.indicators &^= mask
	}
}

func (b *SimulatedBenchAdapter) SetSwitch(battery int, dest domain.Destination) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bit := uint(dest)
	mask := uint32(1) << bit
	if battery == 0 {
		b.switchBits &^= mask
	} else {
		b.switchBits |= mask
	}
	return nil
}

func (b *SimulatedBenchAdapter) GetSwitchControlBits() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.switchBits, nil
}

func (b *SimulatedBenchAdapter) SetSwitchControlBits(bits uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.switchBits = bits
	return nil
}

func (b *SimulatedBenchAdapter) OverCurrentReset(iface int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overCurrentLatch[iface] = false
	return nil
}

func (b *SimulatedBenchAdapter) OverCurrentRelease(iface int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.overCurrentLatch, iface)
	return nil
}

func (b *SimulatedBenchAdapter) GetBatteryChargingPhase(battery int) (domain.ChargingPhase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chargingPhase[battery-1], nil
}

func (b *SimulatedBenchAdapter) SetBatteryChargingPhase(battery int, phase domain.ChargingPhase) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chargingPhase[battery-1] = phase
	return nil
}

func (b *SimulatedBenchAdapter) SetPanelSwitchSetting(battery int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.preferredPanel = battery
	return nil
}

func (b *SimulatedBenchAdapter) PersistCurrentOffsets(offsets []fixedpoint.Q8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentOffsets = append([]fixedpoint.Q8(nil), offsets...)
	return nil
}

func (b *SimulatedBenchAdapter) PersistMonitorStrategy(strategy domain.MonitorStrategy) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monitorStrategy = strategy
	return nil
}

var (
	_ port.MeasurementPort = (*SimulatedBenchAdapter)(nil)
	_ port.SwitchPort      = (*SimulatedBenchAdapter)(nil)
	_ port.ChargerPort     = (*SimulatedBenchAdapter)(nil)
	_ port.ConfigPort      = (*SimulatedBenchAdapter)(nil)
)
