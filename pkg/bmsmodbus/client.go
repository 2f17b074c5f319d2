// Package bmsmodbus talks to the battery-bank gateway: a Modbus-TCP
// device that exposes the bank's measurement and switch-matrix registers
// to the monitor process. The register map below is this repository's
// own (there is no sunspec model to follow here, unlike the inverter
// side): one holding register per quantity, values already scaled to Q8
// so the monitor never has to apply a scale factor.
package bmsmodbus

import (
	"fmt"
	"time"

	"bms/internal/core/fixedpoint"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// Register map. Each battery/load/panel slot occupies one register per
// quantity, indexed consecutively from the bases below.
const (
	regBatteryVoltageBase = 0x0000
	regBatteryCurrentBase = 0x0010
	regBatteryChargeBase  = 0x0020 // destructive accumulated-charge counter
	regLoadVoltageBase    = 0x0030
	regLoadCurrentBase    = 0x0038
	regPanelVoltageBase   = 0x0040
	regPanelCurrentBase   = 0x0048
	regTemperature        = 0x0050
	regIndicators         = 0x0051 // 32-bit, two registers
	regSwitchControlBits  = 0x0053 // 32-bit, two registers
	regOverCurrentReset   = 0x0060 // write-only, one register per interface
	regOverCurrentRelease = 0x0070
	maxInterfaces         = 16
)

// GatewayClient is a thin synchronous wrapper over simonvetter/modbus
// that knows the battery-bank gateway's register layout. It is not
// goroutine-safe; callers that need concurrent access (the adapter
// actor) must serialize through the actor's mailbox the same way the
// teacher's InverterIntSFModbusReader is only ever driven by one actor.
type GatewayClient struct {
	client *modbus.ModbusClient
	logger *zap.Logger
}

func NewGatewayClient(host string, port uint, timeout time.Duration, logger *zap.Logger) (*GatewayClient, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return &GatewayClient{client: client, logger: logger}, nil
}

func (g *GatewayClient) Open() error {
	return g.client.Open()
}

func (g *GatewayClient) Close() error {
	return g.client.Close()
}

func (g *GatewayClient) readQ8(addr uint16) (fixedpoint.Q8, error) {
	v, err := g.client.ReadRegister(addr, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Q8(int16(v)), nil
}

func (g *GatewayClient) readUint32(addr uint16) (uint32, error) {
	return g.client.ReadUint32(addr, modbus.HOLDING_REGISTER)
}

func (g *GatewayClient) GetBatteryVoltage(battery int) (fixedpoint.Q8, error) {
	return g.readQ8(regBatteryVoltageBase + uint16(battery))
}

func (g *GatewayClient) GetBatteryCurrent(battery int) (fixedpoint.Q8, error) {
	return g.readQ8(regBatteryCurrentBase + uint16(battery))
}

// GetBatteryAccumulatedCharge reads the gateway's running coulomb counter
// for battery. The gateway itself resets the counter to zero on read, so
// the destructive-read contract of port.MeasurementPort is satisfied by
// the device, not by this client.
func (g *GatewayClient) GetBatteryAccumulatedCharge(battery int) (fixedpoint.Q8, error) {
	return g.readQ8(regBatteryChargeBase + uint16(battery))
}

func (g *GatewayClient) GetLoadVoltage(load int) (fixedpoint.Q8, error) {
	return g.readQ8(regLoadVoltageBase + uint16(load))
}

func (g *GatewayClient) GetLoadCurrent(load int) (fixedpoint.Q8, error) {
	return g.readQ8(regLoadCurrentBase + uint16(load))
}

func (g *GatewayClient) GetPanelVoltage(panel int) (fixedpoint.Q8, error) {
	return g.readQ8(regPanelVoltageBase + uint16(panel))
}

func (g *GatewayClient) GetPanelCurrent(panel int) (fixedpoint.Q8, error) {
	return g.readQ8(regPanelCurrentBase + uint16(panel))
}

func (g *GatewayClient) GetTemperature() (fixedpoint.Q8, error) {
	return g.readQ8(regTemperature)
}

func (g *GatewayClient) GetIndicators() (uint32, error) {
	return g.readUint32(regIndicators)
}

func (g *GatewayClient) GetSwitchControlBits() (uint32, error) {
	return g.readUint32(regSwitchControlBits)
}

func (g *GatewayClient) SetSwitchControlBits(bits uint32) error {
	return g.client.WriteRegisters(regSwitchControlBits, []uint16{uint16(bits >> 16), uint16(bits)})
}

// SetSwitch flips a single bit pair in the switch control word rather
// than overwriting it wholesale, so concurrent calls for different
// destinations don't clobber each other within one tick.
func (g *GatewayClient) SetSwitch(battery int, destBit uint) error {
	bits, err := g.GetSwitchControlBits()
	if err != nil {
		return err
	}
	mask := uint32(1) << destBit
	if battery == 0 {
		bits &^= mask
	} else {
		bits |= mask
	}
	return g.SetSwitchControlBits(bits)
}

func (g *GatewayClient) OverCurrentReset(iface int) error {
	return g.client.WriteRegister(regOverCurrentReset+uint16(iface), 1)
}

func (g *GatewayClient) OverCurrentRelease(iface int) error {
	return g.client.WriteRegister(regOverCurrentRelease+uint16(iface), 1)
}
