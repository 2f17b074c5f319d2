package domain

import (
	"fmt"

	"bms/internal/core/fixedpoint"
)

// EngineRequest / EngineResponse

type EngineRequest interface {
	ActorRequest
	EngineCommand() string
}

type EngineRequestMixIn struct {
	ActorRequestMixIn
}

func (r EngineRequestMixIn) EngineCommand() string {
	return fmt.Sprintf("%T", r)
}

type EngineResponse interface {
	ActorResponse
	EngineResponse() string
}

type EngineResponseMixIn struct {
	ActorResponseMixIn
}

func (r EngineResponseMixIn) EngineResponse() string {
	return fmt.Sprintf("%T", r)
}

// Control-surface commands (spec.md §6 "Control surface (inbound)")

type StartCalibrationRequest struct {
	EngineRequestMixIn
}

type StartCalibrationResponse struct {
	EngineResponseMixIn
	Started bool
}

type SetBatteryMissingRequest struct {
	EngineRequestMixIn
	Battery int
	Missing bool
}

type SetBatteryMissingResponse struct {
	EngineResponseMixIn
	Changed bool
}

type SetBatterySoCRequest struct {
	EngineRequestMixIn
	Battery int
	SoC     fixedpoint.Q8
}

type SetBatterySoCResponse struct {
	EngineResponseMixIn
	Changed bool
}

type ResetBatterySoCRequest struct {
	EngineRequestMixIn
	Battery int
}

type ResetBatterySoCResponse struct {
	EngineResponseMixIn
	Changed bool
}

type SetMonitorStrategyRequest struct {
	EngineRequestMixIn
	Strategy MonitorStrategy
}

type SetMonitorStrategyResponse struct {
	EngineResponseMixIn
}

// ensure interface compliance
var _ EngineRequest = (*StartCalibrationRequest)(nil)
