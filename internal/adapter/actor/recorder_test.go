package actor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnTestRecorder(t *testing.T, cfg config.RecorderConfig) (*actor.RootContext, *actor.PID, func()) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	props := actor.PropsFromProducer(func() actor.Actor { return NewRecorderActor(cfg, logger) })
	pid := root.Spawn(props)

	return root, pid, func() {
		root.Stop(pid)
		as.Shutdown()
	}
}

func TestRecorderActorHealth(t *testing.T) {
	cfg := config.RecorderConfig{Cron: "0 0 0 1 1 ? 2099", RingSize: 4}
	root, pid, stop := spawnTestRecorder(t, cfg)
	defer stop()

	result, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	resp := result.(domain.ActorHealthResponse)
	assert.True(t, resp.Healthy)
	assert.Equal(t, domain.ACTOR_ID_RECORDER, resp.Id)
}

func TestRecorderEventSinkClientDoesNotBlock(t *testing.T) {
	cfg := config.RecorderConfig{Cron: "0 0 0 1 1 ? 2099", RingSize: 4}
	root, pid, stop := spawnTestRecorder(t, cfg)
	defer stop()

	client := NewRecorderEventSinkClient(root, pid)
	snapshot := domain.EngineSnapshot{
		Batteries: []domain.BatterySnapshot{{Index: 0, Voltage: fixedpoint.FromInt(12), SoC: fixedpoint.FromInt(80)}},
	}

	start := time.Now()
	assert.NoError(t, client.EmitSnapshot(snapshot))
	assert.NoError(t, client.EmitCalibrationProgress(1, 4))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRecorderActorDoesNotFlushBeforeCronFires(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.ndjson")
	cfg := config.RecorderConfig{Cron: "0 0 0 1 1 ? 2099", RingSize: 4, Path: path}
	root, pid, stop := spawnTestRecorder(t, cfg)
	defer stop()

	client := NewRecorderEventSinkClient(root, pid)
	snapshot := domain.EngineSnapshot{Batteries: []domain.BatterySnapshot{{Index: 0, SoC: fixedpoint.FromInt(50)}}}
	assert.NoError(t, client.EmitSnapshot(snapshot))

	time.Sleep(50 * time.Millisecond)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "recorder should not have written to disk before its cron trigger fires")
}
