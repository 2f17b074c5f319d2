package actor

import (
	"testing"
	"time"

	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// watchdogTarget is a bare actor standing in for the monitor: it only
// needs to record whether it received a watchdogTimeout, since that
// message — not a direct call into the monitor — is how the watchdog
// forces a restart.
type watchdogTarget struct {
	received chan struct{}
}

func (w *watchdogTarget) Receive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case watchdogTimeout:
		close(w.received)
	}
}

func TestWatchdogActorForcesTimeoutWhenHeartbeatStalls(t *testing.T) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	target := &watchdogTarget{received: make(chan struct{})}
	targetPid := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return target }))

	heartbeat := NewHeartbeatCounter()
	// threshold = 10 * MonitorDelayMillis / WatchdogDelayMillis = 2: the
	// watchdog fires on its 3rd tick (50ms apart) if nothing resets it.
	cfg := config.MonitorConfig{
		MonitorDelayMillis:  10,
		WatchdogDelayMillis: 50,
	}
	watchdogPid := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewWatchdogActor(heartbeat, targetPid, cfg, logger)
	}))
	defer func() {
		root.Stop(watchdogPid)
		root.Stop(targetPid)
		as.Shutdown()
	}()

	select {
	case <-target.received:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never forced a timeout on a stalled heartbeat")
	}
}

func TestWatchdogActorStaysQuietWhileHeartbeatResets(t *testing.T) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	target := &watchdogTarget{received: make(chan struct{})}
	targetPid := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return target }))

	heartbeat := NewHeartbeatCounter()
	// threshold = 10 * MonitorDelayMillis / WatchdogDelayMillis = 2: the
	// watchdog fires on its 3rd tick (50ms apart) if nothing resets it.
	cfg := config.MonitorConfig{
		MonitorDelayMillis:  10,
		WatchdogDelayMillis: 50,
	}
	watchdogPid := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewWatchdogActor(heartbeat, targetPid, cfg, logger)
	}))
	defer func() {
		root.Stop(watchdogPid)
		root.Stop(targetPid)
		as.Shutdown()
	}()

	stopResetting := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopResetting:
				return
			case <-ticker.C:
				heartbeat.Reset()
			}
		}
	}()

	select {
	case <-target.received:
		close(stopResetting)
		t.Fatal("watchdog forced a timeout despite a live heartbeat")
	case <-time.After(300 * time.Millisecond):
		close(stopResetting)
	}
}

func TestWatchdogActorHealthCheck(t *testing.T) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	target := &watchdogTarget{received: make(chan struct{})}
	targetPid := root.Spawn(actor.PropsFromProducer(func() actor.Actor { return target }))

	heartbeat := NewHeartbeatCounter()
	cfg := config.MonitorConfig{MonitorDelayMillis: 5000, WatchdogDelayMillis: 1000}
	watchdogPid := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewWatchdogActor(heartbeat, targetPid, cfg, logger)
	}))
	defer func() {
		root.Stop(watchdogPid)
		root.Stop(targetPid)
		as.Shutdown()
	}()

	result, err := root.RequestFuture(watchdogPid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	resp := result.(domain.ActorHealthResponse)
	assert.True(t, resp.Healthy)
	assert.Equal(t, domain.ACTOR_ID_WATCHDOG, resp.Id)
}
