package actor

import (
	"fmt"
	"time"

	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
	"bms/internal/core/port"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// ChargerActor is the reference implementation of the charger
// collaborator from spec.md §6/SPEC_FULL §4.5: a per-battery phase state
// machine the allocator depends on through port.ChargerPort but does not
// itself own. It ticks independently of the monitor (grounded on the
// teacher's PowerFlowActor self-scheduling idiom) and samples voltage
// directly off the measurement port rather than through the monitor, so
// it has no dependency on MonitorActor's battery records.
type ChargerActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler

	measurement port.MeasurementPort
	cfg         config.ChargerConfig
	thresholds  domain.Thresholds
	batteries   []config.BatteryConfig

	phase          []domain.ChargingPhase
	aboveThreshold []int
	notCharging    []int
	preferred      int

	logger *zap.Logger
}

type chargerTick struct{}

func NewChargerActor(measurement port.MeasurementPort, cfg config.ChargerConfig, thresholds domain.Thresholds, batteries []config.BatteryConfig, logger *zap.Logger) *ChargerActor {
	n := len(batteries)
	act := &ChargerActor{
		measurement:    measurement,
		cfg:            cfg,
		thresholds:     thresholds,
		batteries:      batteries,
		phase:          make([]domain.ChargingPhase, n),
		aboveThreshold: make([]int, n),
		notCharging:    make([]int, n),
		behavior:       actor.NewBehavior(),
		stash:          &actorutil.Stash{},
		logger:         actorutil.ActorLogger("charger", logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ChargerActor) Receive(ctx actor.Context) {
	state.behavior.Receive(ctx)
}

func (state *ChargerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("charger@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.cfg.TickDelay(), ctx.Self(), chargerTick{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("charger@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ChargerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CHARGER,
			Healthy: true,
			State:   "idle",
		})
	case chargerTick:
		state.advance()
		state.scheduler.RequestOnce(state.cfg.TickDelay(), ctx.Self(), chargerTick{})
	case getChargingPhaseRequest:
		ctx.Respond(getChargingPhaseResponse{Phase: state.phase[msg.Battery-1]})
	case setChargingPhaseRequest:
		state.phase[msg.Battery-1] = msg.Phase
		if msg.Phase == domain.Bulk {
			state.aboveThreshold[msg.Battery-1] = 0
		}
		ctx.Respond(setChargingPhaseResponse{})
	case setPanelSwitchSettingRequest:
		state.preferred = msg.Battery
		ctx.Respond(setPanelSwitchSettingResponse{})
	default:
		state.logger.Debug("charger@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// advance runs one tick of the bulk->absorption->float / float->bulk /
// absorption->rest state machine described in SPEC_FULL §4.5, for every
// configured battery.
func (state *ChargerActor) advance() {
	temperature, err := state.measurement.GetTemperature()
	if err != nil {
		state.logger.Warn("charger: GetTemperature failed", zap.Error(err))
		return
	}
	for i := range state.batteries {
		battery := i + 1
		voltage, err := state.measurement.GetBatteryVoltage(battery)
		if err != nil {
			state.logger.Warn("charger: GetBatteryVoltage failed", zap.Error(err), zap.Int("battery", battery))
			continue
		}
		soc := fixedpoint.ComputeSoC(voltage, temperature, state.batteries[i].BatteryType().IsWetChemistry())
		underCharge := state.preferred == battery

		switch state.phase[i] {
		case domain.Bulk:
			if voltage.Abs() >= state.cfg.AbsorptionVoltage {
				state.aboveThreshold[i]++
			} else {
				state.aboveThreshold[i] = 0
			}
			if state.aboveThreshold[i] > state.cfg.DebounceTicks {
				state.phase[i] = domain.Absorption
				state.aboveThreshold[i] = 0
				state.notCharging[i] = 0
			}
		case domain.Absorption:
			if soc >= state.floatBulkSoC() {
				state.phase[i] = domain.Float
				continue
			}
			if underCharge {
				state.notCharging[i] = 0
			} else {
				state.notCharging[i]++
			}
			if state.notCharging[i] > state.cfg.CooldownTicks {
				state.phase[i] = domain.Rest
				state.notCharging[i] = 0
			}
		case domain.Rest, domain.Float:
			// Float->bulk is driven exclusively by the allocator's D1
			// override through SetBatteryChargingPhase; rest has no
			// automatic exit here, matching spec.md §9's note that the
			// charger's own algorithm is out of scope.
		}
	}
}

// floatBulkSoC is not part of ChargerConfig (it belongs to the allocator's
// domain.Thresholds) but the reference state machine needs the same
// value to decide absorption->float, so it is passed in through
// NewChargerActor's thresholds argument.
func (state *ChargerActor) floatBulkSoC() fixedpoint.Q8 {
	return state.thresholds.FloatBulkSoC
}

type getChargingPhaseRequest struct {
	domain.ActorRequestMixIn
	Battery int
}
type getChargingPhaseResponse struct {
	domain.ActorResponseMixIn
	Phase domain.ChargingPhase
}
type setChargingPhaseRequest struct {
	domain.ActorRequestMixIn
	Battery int
	Phase   domain.ChargingPhase
}
type setChargingPhaseResponse struct {
	domain.ActorResponseMixIn
}
type setPanelSwitchSettingRequest struct {
	domain.ActorRequestMixIn
	Battery int
}
type setPanelSwitchSettingResponse struct {
	domain.ActorResponseMixIn
}

// ChargerPortClient is the synchronous port.ChargerPort view the monitor
// holds, asking ChargerActor the same way GatewayPortClient asks
// GatewayActor.
type ChargerPortClient struct {
	root    *actor.RootContext
	pid     *actor.PID
	timeout time.Duration
}

func NewChargerPortClient(root *actor.RootContext, pid *actor.PID, timeout time.Duration) *ChargerPortClient {
	return &ChargerPortClient{root: root, pid: pid, timeout: timeout}
}

func (c *ChargerPortClient) GetBatteryChargingPhase(battery int) (domain.ChargingPhase, error) {
	res, err := c.root.RequestFuture(c.pid, getChargingPhaseRequest{Battery: battery}, c.timeout).Result()
	if err != nil {
		return domain.Bulk, err
	}
	return res.(getChargingPhaseResponse).Phase, nil
}

func (c *ChargerPortClient) SetBatteryChargingPhase(battery int, phase domain.ChargingPhase) error {
	_, err := c.root.RequestFuture(c.pid, setChargingPhaseRequest{Battery: battery, Phase: phase}, c.timeout).Result()
	return err
}

func (c *ChargerPortClient) SetPanelSwitchSetting(battery int) error {
	_, err := c.root.RequestFuture(c.pid, setPanelSwitchSettingRequest{Battery: battery}, c.timeout).Result()
	return err
}

var _ port.ChargerPort = (*ChargerPortClient)(nil)
