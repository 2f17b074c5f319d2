package actor

import (
	"fmt"
	"time"

	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
	"bms/internal/core/port"
	"bms/internal/core/service"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// MonitorActor is the single opaque engine object from spec.md §9: its
// own fields hold every battery record and the allocator globals, and
// nothing outside this actor ever mutates them directly. It is grounded
// on the teacher's PowerFlowActor tick-scheduling idiom (self-message
// ticks via scheduler.TimerScheduler, stash-while-busy) generalized to
// the monitor loop of spec.md §4.4.
type MonitorActor struct {
	states    actorutil.ActorWithStates
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler

	measurement port.MeasurementPort
	switchPort  port.SwitchPort
	charger     port.ChargerPort
	configPort  port.ConfigPort
	eventSink   port.EventSink

	cfg        config.BankConfig
	monitorCfg config.MonitorConfig

	batteries  []*domain.Battery
	allocState domain.AllocatorState
	strategy   domain.MonitorStrategy

	lastTemperature    fixedpoint.Q8
	lastDecisionStatus uint16

	heartbeat *HeartbeatCounter

	logger *zap.Logger
}

type monitorTick struct{}

type watchdogTimeout struct{}

func NewMonitorActor(
	measurement port.MeasurementPort,
	switchPort port.SwitchPort,
	charger port.ChargerPort,
	configPort port.ConfigPort,
	eventSink port.EventSink,
	cfg config.BankConfig,
	monitorCfg config.MonitorConfig,
	heartbeat *HeartbeatCounter,
	logger *zap.Logger,
) *MonitorActor {
	batteries := make([]*domain.Battery, cfg.NumBatteries)
	for i := range batteries {
		bc := cfg.Batteries[i]
		batteries[i] = &domain.Battery{
			Index:    i,
			Capacity: bc.Capacity,
			Type:     bc.BatteryType(),
		}
	}
	act := &MonitorActor{
		measurement: measurement,
		switchPort:  switchPort,
		charger:     charger,
		configPort:  configPort,
		eventSink:   eventSink,
		cfg:         cfg,
		monitorCfg:  monitorCfg,
		batteries:   batteries,
		strategy:    cfg.MonitorStrategy(),
		heartbeat:   heartbeat,
		states:      actorutil.ActorWithStates{Behavior: actor.NewBehavior()},
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger("monitor", logger),
	}
	act.states.Become(monitorStartingState{act})
	return act
}

func (state *MonitorActor) Receive(ctx actor.Context) {
	state.states.Behavior.Receive(ctx)
}

// monitorStartingState/monitorDefaultState are the named ActorState values
// MonitorActor's two behaviors are Become'd through, the same
// actorutil.ActorWithStates wrapper the teacher's BatteryControlActorNew
// (BCStartingState/BCDefaultState) used for its own starting/default split.
type monitorStartingState struct{ actor *MonitorActor }

func (s monitorStartingState) Name() string { return "starting" }

func (s monitorStartingState) Receive(ctx actor.Context) { s.actor.StartingReceive(ctx) }

type monitorDefaultState struct{ actor *MonitorActor }

func (s monitorDefaultState) Name() string { return "default" }

func (s monitorDefaultState) Receive(ctx actor.Context) { s.actor.DefaultReceive(ctx) }

func (state *MonitorActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("monitor@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.monitorCfg.StartupDelay(), ctx.Self(), monitorTick{})
		state.states.Become(monitorDefaultState{state})
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("monitor@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MonitorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MONITOR,
			Healthy: true,
			State:   "idle",
		})
	case watchdogTimeout:
		panic("monitor: watchdog timeout, forcing restart")
	case monitorTick:
		state.runTick()
		state.heartbeat.Reset()
		state.scheduler.RequestOnce(state.monitorCfg.MonitorDelay(), ctx.Self(), monitorTick{})
	case domain.StartCalibrationRequest:
		state.allocState.CalibrateRequested = true
		actorutil.ForRequest(msg).Respond(ctx, domain.StartCalibrationResponse{Started: true})
	case domain.SetBatteryMissingRequest:
		resp := domain.SetBatteryMissingResponse{}
		if bat := state.battery(msg.Battery); bat != nil {
			if msg.Missing {
				bat.HealthState = domain.Missing
			} else {
				bat.HealthState = domain.Good
			}
			resp.Changed = true
		}
		actorutil.ForRequest(msg).Respond(ctx, resp)
	case domain.SetBatterySoCRequest:
		resp := domain.SetBatterySoCResponse{}
		if bat := state.battery(msg.Battery); bat != nil {
			bat.SoC = fixedpoint.Clamp(msg.SoC, 0, 25600)
			resp.Changed = true
		}
		actorutil.ForRequest(msg).Respond(ctx, resp)
	case domain.ResetBatterySoCRequest:
		resp := domain.ResetBatterySoCResponse{}
		if bat := state.battery(msg.Battery); bat != nil {
			if bat.SoC < 25600 {
				bat.FillState = domain.FillFaulty
			}
			bat.SoC = 25600
			resp.Changed = true
		}
		actorutil.ForRequest(msg).Respond(ctx, resp)
	case domain.SetMonitorStrategyRequest:
		state.strategy = msg.Strategy
		if err := state.configPort.PersistMonitorStrategy(msg.Strategy); err != nil {
			state.logger.Warn("monitor: PersistMonitorStrategy failed", zap.Error(err))
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.SetMonitorStrategyResponse{})
	case domain.GetSnapshotRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetSnapshotResponse{Snapshot: state.buildSnapshot()})
	default:
		state.logger.Debug("monitor@default: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MonitorActor) battery(idx1 int) *domain.Battery {
	if idx1 < 1 || idx1 > len(state.batteries) {
		return nil
	}
	return state.batteries[idx1-1]
}

func (state *MonitorActor) present() []*domain.Battery {
	out := make([]*domain.Battery, 0, len(state.batteries))
	for _, b := range state.batteries {
		if b.HealthState != domain.Missing {
			out = append(out, b)
		}
	}
	return out
}

func (state *MonitorActor) applyIndicators(indicators uint32) {
	for i, bat := range state.batteries {
		present := indicators&(1<<uint(2*i+1)) != 0
		if !present {
			bat.HealthState = domain.Missing
			bat.SoC = 0
		}
	}
}

// runTick implements spec.md §4.4 steps 2-4: the startup delay (step 1)
// and the sleep/heartbeat reset (steps 5-6) are handled by the caller's
// scheduler loop.
func (state *MonitorActor) runTick() {
	if state.allocState.CalibrateRequested {
		state.runCalibration()
	}

	temperature, err := state.measurement.GetTemperature()
	if err != nil {
		state.logger.Warn("monitor: GetTemperature failed", zap.Error(err))
	}

	for _, bat := range state.present() {
		voltage, vErr := state.measurement.GetBatteryVoltage(bat.Index + 1)
		current, cErr := state.measurement.GetBatteryCurrent(bat.Index + 1)
		charge, qErr := state.measurement.GetBatteryAccumulatedCharge(bat.Index + 1)
		if vErr != nil || cErr != nil || qErr != nil {
			state.logger.Warn("monitor: battery measurement read failed", zap.Int("battery", bat.Index+1))
			continue
		}
		service.UpdateBatteryState(bat, charge, voltage, current, state.cfg.Thresholds)

		phase, err := state.charger.GetBatteryChargingPhase(bat.Index + 1)
		if err != nil {
			state.logger.Warn("monitor: GetBatteryChargingPhase failed", zap.Error(err), zap.Int("battery", bat.Index+1))
			continue
		}
		bat.Phase = phase
	}

	state.lastTemperature = temperature
	if err := state.eventSink.EmitSnapshot(state.buildSnapshot()); err != nil {
		state.logger.Warn("monitor: EmitSnapshot failed", zap.Error(err))
	}

	panelVoltage, err := state.measurement.GetPanelVoltage(1)
	if err != nil {
		state.logger.Warn("monitor: GetPanelVoltage failed", zap.Error(err))
	}

	result := service.Allocate(&state.allocState, state.batteries, service.AllocationInput{
		Policy:       state.strategy,
		PanelVoltage: panelVoltage,
		Temperature:  temperature,
		Thresholds:   state.cfg.Thresholds,
		AutoTrack:    state.cfg.AutoTrack,
		MonitorDelay: state.monitorCfg.MonitorDelay(),
	})
	state.lastDecisionStatus = result.DecisionStatus

	for _, w := range result.SwitchWrites {
		if err := state.switchPort.SetSwitch(w.Battery, w.Destination); err != nil {
			state.logger.Warn("monitor: SetSwitch failed", zap.Error(err))
		}
	}
	for _, w := range result.PhaseWrites {
		if err := state.charger.SetBatteryChargingPhase(w.Battery, w.Phase); err != nil {
			state.logger.Warn("monitor: SetBatteryChargingPhase failed", zap.Error(err))
		}
	}
	if state.cfg.AutoTrack {
		if err := state.charger.SetPanelSwitchSetting(result.PreferredPanelTarget); err != nil {
			state.logger.Warn("monitor: SetPanelSwitchSetting failed", zap.Error(err))
		}
	}

	for _, bat := range state.present() {
		service.ReconcileIdleState(bat, temperature, state.monitorCfg.MonitorDelay())
	}
}

// runCalibration implements spec.md §4.2's calibration protocol. It
// blocks the actor's goroutine for the calibration's settle delays,
// acceptable per SPEC_FULL §5 because the allocator never runs
// concurrently with it.
func (state *MonitorActor) runCalibration() {
	savedBits, err := state.switchPort.GetSwitchControlBits()
	if err != nil {
		state.logger.Warn("monitor: calibration could not read switch bits", zap.Error(err))
	}

	numInterfaces := state.cfg.NumBatteries + state.cfg.NumLoads + state.cfg.NumPanels
	numTests := service.NumCalibrationTests(state.cfg.NumBatteries, state.cfg.NumLoads)
	samples := make([][]fixedpoint.Q8, numTests)

	for test := 0; test < numTests; test++ {
		for _, w := range service.BuildCalibrationStep(test, state.cfg.NumBatteries, state.cfg.NumLoads) {
			if err := state.switchPort.SetSwitch(w.Battery, w.Destination); err != nil {
				state.logger.Warn("monitor: calibration SetSwitch failed", zap.Error(err))
			}
		}

		time.Sleep(state.monitorCfg.CalibrationDelay())
		state.heartbeat.Reset()

		row := make([]fixedpoint.Q8, numInterfaces)
		for i := 0; i < state.cfg.NumBatteries; i++ {
			row[i], _ = state.measurement.GetBatteryCurrent(i + 1)
		}
		for j := 0; j < state.cfg.NumLoads; j++ {
			row[state.cfg.NumBatteries+j], _ = state.measurement.GetLoadCurrent(j + 1)
		}
		for k := 0; k < state.cfg.NumPanels; k++ {
			row[state.cfg.NumBatteries+state.cfg.NumLoads+k], _ = state.measurement.GetPanelCurrent(k + 1)
		}
		samples[test] = row

		if indicators, err := state.measurement.GetIndicators(); err == nil {
			state.applyIndicators(indicators)
		}

		if err := state.eventSink.EmitCalibrationProgress(test, numTests); err != nil {
			state.logger.Warn("monitor: EmitCalibrationProgress failed", zap.Error(err))
		}
	}

	present := make([]bool, state.cfg.NumBatteries)
	for i, bat := range state.batteries {
		present[i] = bat.HealthState != domain.Missing
	}
	offsets, _, _ := service.ReduceCalibrationSamples(samples, numInterfaces, state.cfg.NumBatteries, present)

	if err := state.switchPort.SetSwitchControlBits(savedBits); err != nil {
		state.logger.Warn("monitor: calibration could not restore switch bits", zap.Error(err))
	}
	if err := state.configPort.PersistCurrentOffsets(offsets); err != nil {
		state.logger.Warn("monitor: PersistCurrentOffsets failed", zap.Error(err))
	}

	temperature, _ := state.measurement.GetTemperature()
	for _, bat := range state.present() {
		voltage, err := state.measurement.GetBatteryVoltage(bat.Index + 1)
		if err == nil {
			bat.SoC = fixedpoint.ComputeSoC(voltage, temperature, bat.Type.IsWetChemistry())
		}
		bat.CurrentSteady = 0
		bat.IsolationTime = 0
		bat.OpState = domain.Isolated
	}
	state.allocState.BatteryUnderLoad = 0
	state.allocState.BatteryUnderCharge = 0
	state.allocState.CalibrateRequested = false
}

func (state *MonitorActor) buildSnapshot() domain.EngineSnapshot {
	snapshot := domain.EngineSnapshot{
		Temperature:        state.lastTemperature,
		BatteryUnderCharge: state.allocState.BatteryUnderCharge,
		BatteryUnderLoad:   state.allocState.BatteryUnderLoad,
		ChargerOff:         state.allocState.ChargerOff,
		DecisionStatus:     state.lastDecisionStatus,
	}
	for _, bat := range state.batteries {
		snapshot.Batteries = append(snapshot.Batteries, domain.BatterySnapshot{
			Index:         bat.Index,
			Voltage:       bat.Voltage,
			Current:       bat.Current,
			SoC:           bat.SoC,
			FillState:     bat.FillState,
			OpState:       bat.OpState,
			HealthState:   bat.HealthState,
			Phase:         bat.Phase,
			IsolationTime: bat.IsolationTime,
		})
	}
	for j := 0; j < state.cfg.NumLoads; j++ {
		voltage, _ := state.measurement.GetLoadVoltage(j + 1)
		current, _ := state.measurement.GetLoadCurrent(j + 1)
		snapshot.Loads = append(snapshot.Loads, domain.LoadSnapshot{Index: j, Voltage: voltage, Current: current})
	}
	for k := 0; k < state.cfg.NumPanels; k++ {
		voltage, _ := state.measurement.GetPanelVoltage(k + 1)
		current, _ := state.measurement.GetPanelCurrent(k + 1)
		snapshot.Panels = append(snapshot.Panels, domain.PanelSnapshot{Index: k, Voltage: voltage, Current: current})
	}
	return snapshot
}
