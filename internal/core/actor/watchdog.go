package actor

import (
	"fmt"
	"sync/atomic"
	"time"

	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// HeartbeatCounter is the monitor's tick heartbeat, shared between
// MonitorActor (which Resets it every successful tick) and WatchdogActor
// (which increments it every watchdogDelay and reacts once it has gone too
// long unreset). It is a plain atomic counter rather than an actor message
// because it carries no domain state, only a liveness signal, matching the
// original firmware's watchdog-timer register described in spec.md §5.
type HeartbeatCounter struct {
	ticks atomic.Int32
}

func NewHeartbeatCounter() *HeartbeatCounter {
	return &HeartbeatCounter{}
}

func (h *HeartbeatCounter) Reset() {
	h.ticks.Store(0)
}

func (h *HeartbeatCounter) IncrementAndGet() int32 {
	return h.ticks.Add(1)
}

// WatchdogActor forces a supervised restart of the monitor when its
// heartbeat has gone unreset for 10 x monitorDelay / watchdogDelay ticks
// (spec.md §5), by sending it a message the monitor panics on, letting
// the supervisor's restart strategy take it from there rather than
// reaching into the monitor's mailbox itself.
type WatchdogActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler

	heartbeat  *HeartbeatCounter
	monitorPid *actor.PID
	threshold  int32
	delay      time.Duration

	logger *zap.Logger
}

type watchdogTick struct{}

func NewWatchdogActor(heartbeat *HeartbeatCounter, monitorPid *actor.PID, cfg config.MonitorConfig, logger *zap.Logger) *WatchdogActor {
	threshold := int32(10)
	if cfg.WatchdogDelayMillis > 0 {
		threshold = int32(10 * cfg.MonitorDelayMillis / cfg.WatchdogDelayMillis)
		if threshold < 1 {
			threshold = 1
		}
	}
	act := &WatchdogActor{
		heartbeat:  heartbeat,
		monitorPid: monitorPid,
		threshold:  threshold,
		delay:      cfg.WatchdogDelay(),
		behavior:   actor.NewBehavior(),
		stash:      &actorutil.Stash{},
		logger:     actorutil.ActorLogger("watchdog", logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *WatchdogActor) Receive(ctx actor.Context) {
	state.behavior.Receive(ctx)
}

func (state *WatchdogActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("watchdog@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.delay, ctx.Self(), watchdogTick{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("watchdog@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *WatchdogActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_WATCHDOG,
			Healthy: true,
			State:   "idle",
		})
	case watchdogTick:
		if state.heartbeat.IncrementAndGet() > state.threshold {
			state.logger.Warn("watchdog: monitor heartbeat exceeded threshold, forcing restart", zap.Int32("threshold", state.threshold))
			ctx.Send(state.monitorPid, watchdogTimeout{})
			state.heartbeat.Reset()
		}
		state.scheduler.RequestOnce(state.delay, ctx.Self(), watchdogTick{})
	default:
		state.logger.Debug("watchdog@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
