package actor

import (
	"fmt"
	"time"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
	"bms/internal/core/port"
	"bms/internal/util/actorutil"
	"bms/pkg/bmsmodbus"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// GatewayActor owns the single TCP connection to the battery-bank gateway
// and serializes every register access through its mailbox, the same way
// the teacher's ModbusActor owns the inverter/ACMeter sockets.
type GatewayActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   *bmsmodbus.GatewayClient
	logger   *zap.Logger
}

// gatewayOp is a single register-level call, expressed as a closure so
// one request/response pair can cover every port.MeasurementPort/
// port.SwitchPort accessor instead of one message type per register.
type gatewayOp struct {
	domain.ActorRequestMixIn
	Name string
	Call func(*bmsmodbus.GatewayClient) (any, error)
}

type gatewayOpResponse struct {
	domain.ActorResponseMixIn
	Value any
}

type backgroundTaskResult struct {
	message gatewayOpResponse
	replyTo *actor.PID
}

func NewGatewayActor(client *bmsmodbus.GatewayClient, logger *zap.Logger) *GatewayActor {
	act := &GatewayActor{
		client:   client,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger("gateway", logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *GatewayActor) Receive(ctx actor.Context) {
	state.behavior.Receive(ctx)
}

func (state *GatewayActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("gateway@starting started")
		if err := state.client.Open(); err != nil {
			panic(err)
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.client.Close()
	default:
		state.logger.Debug("gateway@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *GatewayActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("gateway@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MEASURE,
			Healthy: true,
			State:   "idle",
		})
	case gatewayOp:
		state.logger.Debug("gateway@default: gatewayOp", zap.String("op", msg.Name))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*gatewayOpResponse, error) {
			v, err := msg.Call(state.client)
			return &gatewayOpResponse{Value: v}, err
		}), mapGatewayResult(sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: gatewayOpResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}},
				replyTo: sender,
			}
		}).WithTimeout(2 * time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingGateway)
	case *actor.Stopping:
		state.client.Close()
	default:
		state.logger.Debug("gateway@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *GatewayActor) WaitingGateway(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.client.Close()
	default:
		state.logger.Debug("gateway@WaitingGateway: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func mapGatewayResult(sender *actor.PID) func(t *gatewayOpResponse) *backgroundTaskResult {
	return func(t *gatewayOpResponse) *backgroundTaskResult {
		return &backgroundTaskResult{message: *t, replyTo: sender}
	}
}

// GatewayPortClient is the synchronous port.MeasurementPort/port.SwitchPort
// view the monitor actually holds: every accessor is an ask against
// GatewayActor's mailbox, so the monitor tick never touches the socket
// directly and a stalled gateway only ever blocks the monitor's call, not
// the gateway's own restart path.
type GatewayPortClient struct {
	root    *actor.RootContext
	pid     *actor.PID
	timeout time.Duration
}

func NewGatewayPortClient(root *actor.RootContext, pid *actor.PID, timeout time.Duration) *GatewayPortClient {
	return &GatewayPortClient{root: root, pid: pid, timeout: timeout}
}

func (c *GatewayPortClient) call(name string, fn func(*bmsmodbus.GatewayClient) (any, error)) (any, error) {
	res, err := c.root.RequestFuture(c.pid, gatewayOp{Name: name, Call: fn}, c.timeout).Result()
	if err != nil {
		return nil, err
	}
	resp := res.(gatewayOpResponse)
	if resp.HasResponseError() {
		return nil, resp.GetResponseError()
	}
	return resp.Value, nil
}

func (c *GatewayPortClient) GetBatteryVoltage(battery int) (fixedpoint.Q8, error) {
	v, err := c.call("GetBatteryVoltage", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetBatteryVoltage(battery) })
	return q8(v), err
}

func (c *GatewayPortClient) GetBatteryCurrent(battery int) (fixedpoint.Q8, error) {
	v, err := c.call("GetBatteryCurrent", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetBatteryCurrent(battery) })
	return q8(v), err
}

func (c *GatewayPortClient) GetBatteryAccumulatedCharge(battery int) (fixedpoint.Q8, error) {
	v, err := c.call("GetBatteryAccumulatedCharge", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetBatteryAccumulatedCharge(battery) })
	return q8(v), err
}

func (c *GatewayPortClient) GetLoadVoltage(load int) (fixedpoint.Q8, error) {
	v, err := c.call("GetLoadVoltage", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetLoadVoltage(load) })
	return q8(v), err
}

func (c *GatewayPortClient) GetLoadCurrent(load int) (fixedpoint.Q8, error) {
	v, err := c.call("GetLoadCurrent", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetLoadCurrent(load) })
	return q8(v), err
}

func (c *GatewayPortClient) GetPanelVoltage(panel int) (fixedpoint.Q8, error) {
	v, err := c.call("GetPanelVoltage", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetPanelVoltage(panel) })
	return q8(v), err
}

func (c *GatewayPortClient) GetPanelCurrent(panel int) (fixedpoint.Q8, error) {
	v, err := c.call("GetPanelCurrent", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetPanelCurrent(panel) })
	return q8(v), err
}

func (c *GatewayPortClient) GetTemperature() (fixedpoint.Q8, error) {
	v, err := c.call("GetTemperature", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetTemperature() })
	return q8(v), err
}

func (c *GatewayPortClient) GetIndicators() (uint32, error) {
	v, err := c.call("GetIndicators", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetIndicators() })
	return u32(v), err
}

func (c *GatewayPortClient) SetSwitch(battery int, dest domain.Destination) error {
	_, err := c.call("SetSwitch", func(g *bmsmodbus.GatewayClient) (any, error) { return nil, g.SetSwitch(battery, switchBit(dest)) })
	return err
}

func (c *GatewayPortClient) GetSwitchControlBits() (uint32, error) {
	v, err := c.call("GetSwitchControlBits", func(g *bmsmodbus.GatewayClient) (any, error) { return g.GetSwitchControlBits() })
	return u32(v), err
}

func (c *GatewayPortClient) SetSwitchControlBits(bits uint32) error {
	_, err := c.call("SetSwitchControlBits", func(g *bmsmodbus.GatewayClient) (any, error) { return nil, g.SetSwitchControlBits(bits) })
	return err
}

func (c *GatewayPortClient) OverCurrentReset(iface int) error {
	_, err := c.call("OverCurrentReset", func(g *bmsmodbus.GatewayClient) (any, error) { return nil, g.OverCurrentReset(iface) })
	return err
}

func (c *GatewayPortClient) OverCurrentRelease(iface int) error {
	_, err := c.call("OverCurrentRelease", func(g *bmsmodbus.GatewayClient) (any, error) { return nil, g.OverCurrentRelease(iface) })
	return err
}

// switchBit maps a destination to the bit position used on the wire; it
// mirrors domain.Destination's ordering (Load1, Load2, Panel).
func switchBit(dest domain.Destination) uint {
	return uint(dest)
}

func q8(v any) fixedpoint.Q8 {
	if v == nil {
		return 0
	}
	return v.(fixedpoint.Q8)
}

func u32(v any) uint32 {
	if v == nil {
		return 0
	}
	return v.(uint32)
}

var (
	_ port.MeasurementPort = (*GatewayPortClient)(nil)
	_ port.SwitchPort      = (*GatewayPortClient)(nil)
)
