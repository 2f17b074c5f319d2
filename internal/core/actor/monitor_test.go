package actor

import (
	"sync"
	"testing"
	"time"

	adactor "bms/internal/adapter/actor"
	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
	"bms/internal/util"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// noopChargerPort stands in for ChargerActor so the monitor's tick can run
// without a second actor: the allocator only needs to read/write phase,
// never drives the state machine itself.
type noopChargerPort struct {
	mu    sync.Mutex
	phase map[int]domain.ChargingPhase
}

func newNoopChargerPort() *noopChargerPort {
	return &noopChargerPort{phase: make(map[int]domain.ChargingPhase)}
}

func (c *noopChargerPort) GetBatteryChargingPhase(battery int) (domain.ChargingPhase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase[battery], nil
}

func (c *noopChargerPort) SetBatteryChargingPhase(battery int, phase domain.ChargingPhase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase[battery] = phase
	return nil
}

func (c *noopChargerPort) SetPanelSwitchSetting(battery int) error { return nil }

// recordingEventSink captures every snapshot the monitor emits, so tests
// can assert on what a tick actually produced without racing the
// monitor's own internal state.
type recordingEventSink struct {
	mu        sync.Mutex
	snapshots []domain.EngineSnapshot
}

func (s *recordingEventSink) EmitSnapshot(snapshot domain.EngineSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *recordingEventSink) EmitCalibrationProgress(test, numTests int) error { return nil }

func (s *recordingEventSink) last() (domain.EngineSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return domain.EngineSnapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

func spawnTestMonitor(t *testing.T, bench *adactor.SimulatedBenchAdapter, sink *recordingEventSink) (*actor.RootContext, *actor.PID, func()) {
	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	heartbeat := NewHeartbeatCounter()
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMonitorActor(bench, bench, newNoopChargerPort(), bench, sink, cfg.Bank, cfg.Monitor, heartbeat, logger)
	})
	pid := root.Spawn(props)

	return root, pid, func() {
		root.Stop(pid)
		as.Shutdown()
	}
}

func TestMonitorActorTickDrivesSimulatedBench(t *testing.T) {
	bench := adactor.NewSimulatedBenchAdapter(2, 1, 1)
	sink := &recordingEventSink{}
	root, pid, stop := spawnTestMonitor(t, bench, sink)
	defer stop()

	assert.Eventually(t, func() bool {
		_, ok := sink.last()
		return ok
	}, 2*time.Second, 10*time.Millisecond, "monitor should have completed a tick")

	result, err := root.RequestFuture(pid, domain.GetSnapshotRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	resp := result.(domain.GetSnapshotResponse)
	assert.Len(t, resp.Snapshot.Batteries, 2)
	assert.NotZero(t, resp.Snapshot.Batteries[0].Voltage)
}

func TestMonitorActorHealthCheck(t *testing.T) {
	bench := adactor.NewSimulatedBenchAdapter(2, 1, 1)
	sink := &recordingEventSink{}
	root, pid, stop := spawnTestMonitor(t, bench, sink)
	defer stop()

	result, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	resp := result.(domain.ActorHealthResponse)
	assert.True(t, resp.Healthy)
	assert.Equal(t, domain.ACTOR_ID_MONITOR, resp.Id)
}

func TestMonitorActorSetBatteryMissing(t *testing.T) {
	bench := adactor.NewSimulatedBenchAdapter(2, 1, 1)
	sink := &recordingEventSink{}
	root, pid, stop := spawnTestMonitor(t, bench, sink)
	defer stop()

	result, err := root.RequestFuture(pid, domain.SetBatteryMissingRequest{Battery: 1, Missing: true}, 2*time.Second).Result()
	assert.NoError(t, err)
	resp := result.(domain.SetBatteryMissingResponse)
	assert.True(t, resp.Changed)

	snapResult, err := root.RequestFuture(pid, domain.GetSnapshotRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	snap := snapResult.(domain.GetSnapshotResponse).Snapshot
	assert.Equal(t, domain.Missing, snap.Batteries[0].HealthState)
}

func TestMonitorActorSetAndResetBatterySoC(t *testing.T) {
	bench := adactor.NewSimulatedBenchAdapter(2, 1, 1)
	sink := &recordingEventSink{}
	root, pid, stop := spawnTestMonitor(t, bench, sink)
	defer stop()

	setResult, err := root.RequestFuture(pid, domain.SetBatterySoCRequest{Battery: 1, SoC: fixedpoint.FromInt(50)}, 2*time.Second).Result()
	assert.NoError(t, err)
	assert.True(t, setResult.(domain.SetBatterySoCResponse).Changed)

	resetResult, err := root.RequestFuture(pid, domain.ResetBatterySoCRequest{Battery: 1}, 2*time.Second).Result()
	assert.NoError(t, err)
	resp := resetResult.(domain.ResetBatterySoCResponse)
	assert.True(t, resp.Changed)

	snapResult, err := root.RequestFuture(pid, domain.GetSnapshotRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	snap := snapResult.(domain.GetSnapshotResponse).Snapshot
	assert.Equal(t, fixedpoint.Q8(25600), snap.Batteries[0].SoC)
}
