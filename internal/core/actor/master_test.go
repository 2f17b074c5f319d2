package actor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/util"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// spawnTestMaster boots a MasterOfPuppetsActor against a simulated bank so
// no live Modbus socket is needed; the MQTT child still dials a real
// broker and may end up unhealthy if none is reachable, which is fine for
// tests that don't assert on overall health.
func spawnTestMaster(t *testing.T, cfg config.Config) (*actor.RootContext, *actor.PID, func()) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, nil, nil, logger)
	})
	pid := root.Spawn(props)

	return root, pid, func() {
		root.Stop(pid)
		as.Shutdown()
	}
}

func TestMasterOfPuppetsHealthCheckRespondsWithoutHanging(t *testing.T) {
	cfg := util.LoadTestConfig()
	root, pid, stop := spawnTestMaster(t, cfg)
	defer stop()

	result, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	assert.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.Equal(t, domain.ACTOR_ID_MASTER, resp.Id)
}

func TestMasterOfPuppetsForwardsSnapshotRequest(t *testing.T) {
	cfg := util.LoadTestConfig()
	root, pid, stop := spawnTestMaster(t, cfg)
	defer stop()

	result, err := root.RequestFuture(pid, domain.GetSnapshotRequest{}, 5*time.Second).Result()
	assert.NoError(t, err)
	resp, ok := result.(domain.GetSnapshotResponse)
	assert.True(t, ok)
	assert.Len(t, resp.Snapshot.Batteries, cfg.Bank.NumBatteries)
}

func TestMasterOfPuppetsForwardsCalibrationRequest(t *testing.T) {
	cfg := util.LoadTestConfig()
	root, pid, stop := spawnTestMaster(t, cfg)
	defer stop()

	result, err := root.RequestFuture(pid, domain.StartCalibrationRequest{}, 5*time.Second).Result()
	assert.NoError(t, err)
	resp, ok := result.(domain.StartCalibrationResponse)
	assert.True(t, ok)
	assert.True(t, resp.Started)
}

func TestMasterOfPuppetsSpawnsRecorderWhenEnabled(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.Recorder.Enabled = true
	cfg.Recorder.Cron = "0 0 0 1 1 ? 2099"
	cfg.Recorder.Path = filepath.Join(t.TempDir(), "recorder.ndjson")

	root, pid, stop := spawnTestMaster(t, cfg)
	defer stop()

	result, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	assert.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.Equal(t, domain.ACTOR_ID_MASTER, resp.Id)

	_, statErr := os.Stat(cfg.Recorder.Path)
	assert.True(t, os.IsNotExist(statErr), "recorder should not have flushed before its cron trigger fires")
}
