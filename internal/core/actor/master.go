package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "bms/internal/adapter/actor"
	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/core/port"
	"bms/internal/util/actorutil"
	"bms/pkg/bmsmodbus"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// GatewayClientProvider opens the real Modbus-TCP connection; nil when
// the bank is configured as simulated, in which case MasterOfPuppetsActor
// never spawns a gateway actor at all.
type GatewayClientProvider func() (*bmsmodbus.GatewayClient, error)

// MasterOfPuppetsActor boots and supervises every long-lived collaborator
// the monitor depends on, and answers a single ActorHealthRequest by
// fanning the same request out to each child and folding the responses,
// the way the teacher's MasterOfPuppetsActor folds Modbus/MQTT/PowerFlow
// health into one verdict.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash

	currentHealthCheck healthCheckResult

	gatewayProvider GatewayClientProvider
	realConfigPort  port.ConfigPort
	bench           *adactor.SimulatedBenchAdapter

	gatewayActor  *actor.PID
	chargerActor  *actor.PID
	monitorActor  *actor.PID
	watchdogActor *actor.PID
	mqttActor     *actor.PID
	recorderActor *actor.PID
	heartbeat     *HeartbeatCounter

	logger *zap.Logger
}

type healthCheckResult struct {
	gatewayHealthy  bool
	chargerHealthy  bool
	monitorHealthy  bool
	watchdogHealthy bool
	mqttHealthy     bool
	recorderHealthy bool
	checksExpected  int
	checksReceived  int
	respondTo       *actor.PID
}

// NewMasterOfPuppetsActor's actor spawns a SimulatedBenchAdapter when
// config.Gateway.Simulated is set, otherwise the real gateway obtained
// from gatewayProvider (which may be nil in the simulated case), matching
// the asymmetry
// between the two: the real gateway needs its own actor and mailbox to
// serialize the TCP connection, the simulated bench is a plain struct the
// monitor and charger can call directly.
func NewMasterOfPuppetsActor(cfg config.Config, gatewayProvider GatewayClientProvider, realConfigPort port.ConfigPort, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:          cfg,
		behavior:        actor.NewBehavior(),
		stash:           &actorutil.Stash{},
		gatewayProvider: gatewayProvider,
		realConfigPort:  realConfigPort,
		heartbeat:       NewHeartbeatCounter(),
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_MASTER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(ctx actor.Context) {
	state.behavior.Receive(ctx)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		var measurement port.MeasurementPort
		var switchPort port.SwitchPort
		var chargerPort port.ChargerPort
		var configPort port.ConfigPort

		if state.config.Gateway.Simulated {
			state.bench = adactor.NewSimulatedBenchAdapter(state.config.Bank.NumBatteries, state.config.Bank.NumLoads, state.config.Bank.NumPanels)
			measurement = state.bench
			switchPort = state.bench
			configPort = state.bench
		} else {
			gatewayPID, err := state.startGatewayActor(ctx)
			if err != nil {
				panic(err)
			}
			state.gatewayActor = gatewayPID
			gatewayClient := adactor.NewGatewayPortClient(ctx.ActorSystem().Root, gatewayPID, 2*time.Second)
			measurement = gatewayClient
			switchPort = gatewayClient
			configPort = state.realConfigPort
		}

		chargerPID, err := state.startChargerActor(ctx, measurement)
		if err != nil {
			panic(err)
		}
		state.chargerActor = chargerPID
		chargerPort = NewChargerPortClient(ctx.ActorSystem().Root, chargerPID, 2*time.Second)

		mqttPID, err := state.startMQTTEventSinkActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttPID
		var eventSink port.EventSink = adactor.NewMQTTEventSinkClient(ctx.ActorSystem().Root, mqttPID)

		if state.config.Recorder.Enabled {
			recorderPID, err := state.startRecorderActor(ctx)
			if err != nil {
				panic(err)
			}
			state.recorderActor = recorderPID
			eventSink = adactor.NewCompositeEventSink(eventSink, adactor.NewRecorderEventSinkClient(ctx.ActorSystem().Root, recorderPID))
		}

		monitorPID, err := state.startMonitorActor(ctx, measurement, switchPort, chargerPort, configPort, eventSink)
		if err != nil {
			panic(err)
		}
		state.monitorActor = monitorPID

		watchdogPID, err := state.startWatchdogActor(ctx, monitorPID)
		if err != nil {
			panic(err)
		}
		state.watchdogActor = watchdogPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck = healthCheckResult{respondTo: ctx.Sender()}

		if state.gatewayActor != nil {
			state.currentHealthCheck.checksExpected++
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.gatewayActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{Id: domain.ACTOR_ID_MEASURE, Healthy: false}
			})
		} else {
			state.currentHealthCheck.gatewayHealthy = true
		}

		for _, child := range []*actor.PID{state.chargerActor, state.monitorActor, state.watchdogActor, state.mqttActor} {
			state.currentHealthCheck.checksExpected++
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(child, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{Id: "", Healthy: false}
			})
		}
		if state.recorderActor != nil {
			state.currentHealthCheck.checksExpected++
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.recorderActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{Id: domain.ACTOR_ID_RECORDER, Healthy: false}
			})
		} else {
			state.currentHealthCheck.recorderHealthy = true
		}

		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			return
		}
		ctx.SetReceiveTimeout(1 * time.Second)
		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.GetSnapshotRequest, domain.StartCalibrationRequest, domain.SetBatteryMissingRequest,
		domain.SetBatterySoCRequest, domain.ResetBatterySoCRequest, domain.SetMonitorStrategyRequest:
		// forwarded straight to the monitor; the server talks to it via
		// this actor's PID so it never needs to know the monitor exists.
		actorutil.ForRequest(msg.(domain.ActorRequest)).Respond(ctx, state.forwardToMonitor(ctx, msg))
	case *actor.Terminated:
		if state.gatewayActor != nil && msg.Who.Id == state.gatewayActor.Id {
			state.logger.Error("master@default gateway terminated")
			panic(errors.New("gateway terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// forwardToMonitor re-asks the monitor synchronously from within the
// master's own mailbox, so callers (the HTTP server) only ever need the
// master's PID, not the monitor's.
func (state *MasterOfPuppetsActor) forwardToMonitor(ctx actor.Context, msg any) domain.ActorResponse {
	res, err := ctx.RequestFuture(state.monitorActor, msg, 5*time.Second).Result()
	if err != nil {
		return domain.ActorHealthResponse{Healthy: false}
	}
	return res.(domain.ActorResponse)
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_MEASURE:
				state.currentHealthCheck.gatewayHealthy = true
			case domain.ACTOR_ID_CHARGER:
				state.currentHealthCheck.chargerHealthy = true
			case domain.ACTOR_ID_MONITOR:
				state.currentHealthCheck.monitorHealthy = true
			case domain.ACTOR_ID_WATCHDOG:
				state.currentHealthCheck.watchdogHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.currentHealthCheck.mqttHealthy = true
			case domain.ACTOR_ID_RECORDER:
				state.currentHealthCheck.recorderHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) startGatewayActor(ctx actor.Context) (*actor.PID, error) {
	client, err := state.gatewayProvider()
	if err != nil {
		return nil, err
	}
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)
	props := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewGatewayActor(client, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_MEASURE)
}

func (state *MasterOfPuppetsActor) startChargerActor(ctx actor.Context, measurement port.MeasurementPort) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewChargerActor(measurement, state.config.Charger, state.config.Bank.Thresholds, state.config.Bank.Batteries, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_CHARGER)
}

func (state *MasterOfPuppetsActor) startMQTTEventSinkActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)
	props := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewMQTTEventSinkActor(&state.config, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startMonitorActor(ctx actor.Context, measurement port.MeasurementPort, switchPort port.SwitchPort,
	charger port.ChargerPort, configPort port.ConfigPort, eventSink port.EventSink) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMonitorActor(measurement, switchPort, charger, configPort, eventSink, state.config.Bank, state.config.Monitor, state.heartbeat, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_MONITOR)
}

func (state *MasterOfPuppetsActor) startWatchdogActor(ctx actor.Context, monitorPID *actor.PID) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewWatchdogActor(state.heartbeat, monitorPID, state.config.Monitor, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_WATCHDOG)
}

func (state *MasterOfPuppetsActor) startRecorderActor(ctx actor.Context) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)
	props := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewRecorderActor(state.config.Recorder, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_RECORDER)
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.checksExpected
}

func (state *healthCheckResult) allHealthy() bool {
	return state.gatewayHealthy && state.chargerHealthy && state.monitorHealthy &&
		state.watchdogHealthy && state.mqttHealthy && state.recorderHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
