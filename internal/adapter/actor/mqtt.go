package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/core/port"
	"bms/internal/events"
	"bms/internal/mqtt"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTEventSinkActor owns the broker connection and the Home Assistant
// discovery payloads, and is the actor-mailbox side of port.EventSink:
// MQTTEventSinkClient only ever fires a message at it, never waits for a
// publish round trip, so a slow or unreachable broker stalls this actor's
// own mailbox, not the monitor's tick.
type MQTTEventSinkActor struct {
	cfg      *config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   *mqtt.MQTTClient
	logger   *zap.Logger
}

type mqttConnected struct{}

type mqttConnectionLost struct{ Error error }

type emitSnapshot struct{ Snapshot domain.EngineSnapshot }

type emitCalibrationProgress struct{ Test, NumTests int }

func NewMQTTEventSinkActor(cfg *config.Config, logger *zap.Logger) *MQTTEventSinkActor {
	act := &MQTTEventSinkActor{
		cfg:      cfg,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTEventSinkActor) Receive(ctx actor.Context) {
	state.behavior.Receive(ctx)
}

func (state *MQTTEventSinkActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")
		state.client = mqtt.CreateMQTTClient(state.cfg, mqtt.OptsFromConfig(state.cfg), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), mqttConnectionLost{Error: err})
		})
		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), mqttConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), mqttConnected{})
			}
		}, 10*time.Second)
	case mqttConnected:
		state.logger.Debug("mqtt@starting connected")
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)
		if state.cfg.MQTT.HADiscoveryEnable {
			if err := state.publishDiscovery(); err != nil {
				state.logger.Error("mqtt@starting discovery publish failed", zap.Error(err))
			}
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case mqttConnectionLost:
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTEventSinkActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case emitSnapshot:
		state.publishSnapshot(msg.Snapshot)
	case emitCalibrationProgress:
		pct := 0.0
		if msg.NumTests > 0 {
			pct = 100 * float64(msg.Test+1) / float64(msg.NumTests)
		}
		state.publishFloat(events.SENSOR_ID_CALIBRATION_PROGRESS, pct, 1)
	case mqttConnectionLost:
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTEventSinkActor) publishSnapshot(snapshot domain.EngineSnapshot) {
	for _, bat := range snapshot.Batteries {
		dev := events.BatteryDevice(state.cfg.MQTT.BaseTopic, bat.Index+1)
		state.publish(state.client.SensorStateTopic(scoped(dev, events.SENSOR_ID_BATTERY_SOC)), fmt.Sprintf("%.2f", bat.SoC.Float64()))
		state.publish(state.client.SensorStateTopic(scoped(dev, events.SENSOR_ID_BATTERY_VOLTAGE)), fmt.Sprintf("%.2f", bat.Voltage.Float64()))
		state.publish(state.client.SensorStateTopic(scoped(dev, events.SENSOR_ID_BATTERY_CURRENT)), fmt.Sprintf("%.2f", bat.Current.Float64()))
		state.publish(state.client.SensorStateTopic(scoped(dev, events.SENSOR_ID_BATTERY_FILL_STATE)), bat.FillState.String())
		state.publish(state.client.SensorStateTopic(scoped(dev, events.SENSOR_ID_BATTERY_OP_STATE)), bat.OpState.String())
		state.publish(state.client.SensorStateTopic(scoped(dev, events.SENSOR_ID_BATTERY_HEALTH)), bat.HealthState.String())
		state.publish(state.client.SensorStateTopic(scoped(dev, events.SENSOR_ID_BATTERY_PHASE)), bat.Phase.String())
		state.publish(state.client.SensorStateTopic(scoped(dev, events.SENSOR_ID_BATTERY_ISOLATION)), fmt.Sprintf("%d", bat.IsolationTime))
		state.client.Publish(state.client.SwitchStateTopic(scoped(dev, events.SWITCH_ID_BATTERY_MISSING)),
			bool2MQTTPayload(bat.HealthState == domain.Missing), 0, true, func(error) {}, 2*time.Second)
	}
	for _, ld := range snapshot.Loads {
		state.publishFloat(fmt.Sprintf("%s_%d", events.SENSOR_ID_LOAD_VOLTAGE, ld.Index+1), ld.Voltage.Float64(), 2)
		state.publishFloat(fmt.Sprintf("%s_%d", events.SENSOR_ID_LOAD_CURRENT, ld.Index+1), ld.Current.Float64(), 2)
	}
	for _, pnl := range snapshot.Panels {
		state.publishFloat(fmt.Sprintf("%s_%d", events.SENSOR_ID_PANEL_VOLTAGE, pnl.Index+1), pnl.Voltage.Float64(), 2)
		state.publishFloat(fmt.Sprintf("%s_%d", events.SENSOR_ID_PANEL_CURRENT, pnl.Index+1), pnl.Current.Float64(), 2)
	}
	state.publishFloat(events.SENSOR_ID_TEMPERATURE, snapshot.Temperature.Float64(), 2)
	state.publish(state.client.SensorStateTopic(events.SENSOR_ID_BATTERY_UNDERCHARGE), fmt.Sprintf("%d", snapshot.BatteryUnderCharge))
	state.publish(state.client.SensorStateTopic(events.SENSOR_ID_BATTERY_UNDERLOAD), fmt.Sprintf("%d", snapshot.BatteryUnderLoad))
	state.publish(state.client.SensorStateTopic(events.SENSOR_ID_DECISION_STATUS), fmt.Sprintf("%d", snapshot.DecisionStatus))
}

func (state *MQTTEventSinkActor) publishFloat(sensorId string, value float64, decimals int) {
	state.publish(state.client.SensorStateTopic(sensorId), fmt.Sprintf(fmt.Sprintf("%%.%df", decimals), value))
}

func (state *MQTTEventSinkActor) publish(topic, payload string) {
	state.client.Publish(topic, payload, 0, false, func(err error) {
		if err != nil {
			state.logger.Warn("mqtt@publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}, 2*time.Second)
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	}
	return mqtt.MQTT_PAYLOAD_OFF
}

func scoped(dev domain.Device, sensorId string) string {
	return fmt.Sprintf("%s_%s", dev.Id, sensorId)
}

func (state *MQTTEventSinkActor) publishDiscovery() error {
	bridgeDevice := events.BridgeDevice(state.cfg.MQTT.BaseTopic)
	bankDevice := events.BankDevice(state.cfg.MQTT.BaseTopic)

	var sensors []domain.GenericSensor
	var switches []domain.GenericSwitch

	sensors = append(sensors, events.BridgeSensors(bridgeDevice)...)
	sensors = append(sensors, events.BankSensors(bankDevice)...)
	for i := 0; i < state.cfg.Bank.NumLoads; i++ {
		sensors = append(sensors, events.LoadSensors(bankDevice, i+1)...)
	}
	for i := 0; i < state.cfg.Bank.NumPanels; i++ {
		sensors = append(sensors, events.PanelSensors(bankDevice, i+1)...)
	}
	for i := 0; i < state.cfg.Bank.NumBatteries; i++ {
		batDevice := events.BatteryDevice(state.cfg.MQTT.BaseTopic, i+1)
		for _, s := range events.BatterySensors(batDevice) {
			s.Id = scoped(batDevice, s.Id)
			sensors = append(sensors, s)
		}
		sw := events.BatteryMissingSwitch(batDevice)
		sw.Id = scoped(batDevice, sw.Id)
		switches = append(switches, sw)
	}

	return state.publishHomeAssistantDiscovery(sensors, switches, nil)
}

func (state *MQTTEventSinkActor) publishHomeAssistantDiscovery(sensors []domain.GenericSensor,
	switches []domain.GenericSwitch, inputNumbers []domain.GenericInputNumber) error {
	for i := range sensors {
		msg := mqtt.GenericSensorToHADiscoveryMessage(state.client, sensors[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := mqtt.HADiscoverySensorTopic(sensors[i])
		state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
	}
	for i := range switches {
		msg := mqtt.GenericSwitchToHADiscoveryMessage(state.client, switches[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := mqtt.HADiscoverySwitchTopic(switches[i])
		state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
	}
	for i := range inputNumbers {
		msg := mqtt.GenericInputNumberToHADiscoveryMessage(state.client, inputNumbers[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := mqtt.HADiscoveryInputNumberTopic(inputNumbers[i])
		state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
	}
	return nil
}

func (state *MQTTEventSinkActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.client != nil {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

// MQTTEventSinkClient is the port.EventSink the monitor actually holds: it
// fires a message at MQTTEventSinkActor's mailbox and returns immediately,
// so a slow broker can never stall a monitor tick. Protoactor's default
// mailbox here is unbounded, same as every mailbox in this process: events
// a slow broker has not taken yet queue up in the mailbox, and none are
// dropped or timed out.
type MQTTEventSinkClient struct {
	root *actor.RootContext
	pid  *actor.PID
}

func NewMQTTEventSinkClient(root *actor.RootContext, pid *actor.PID) *MQTTEventSinkClient {
	return &MQTTEventSinkClient{root: root, pid: pid}
}

func (c *MQTTEventSinkClient) EmitSnapshot(snapshot domain.EngineSnapshot) error {
	c.root.Send(c.pid, emitSnapshot{Snapshot: snapshot})
	return nil
}

func (c *MQTTEventSinkClient) EmitCalibrationProgress(test, numTests int) error {
	c.root.Send(c.pid, emitCalibrationProgress{Test: test, NumTests: numTests})
	return nil
}

var _ port.EventSink = (*MQTTEventSinkClient)(nil)

// NewTestMQTTEventSinkActor skips the real broker connection, landing
// directly in DefaultReceive with a nil client; publishes become no-ops,
// which is enough to exercise health checks and mailbox routing in tests
// that have no broker to connect to.
func NewTestMQTTEventSinkActor(cfg *config.Config, logger *zap.Logger) *MQTTEventSinkActor {
	act := &MQTTEventSinkActor{
		cfg:      cfg,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.TestReceive)
	return act
}

func (state *MQTTEventSinkActor) TestReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case emitSnapshot, emitCalibrationProgress:
	default:
		state.logger.Debug("mqtt@test: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
