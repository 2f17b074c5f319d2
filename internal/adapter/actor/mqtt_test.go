package actor

import (
	"testing"
	"time"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
	"bms/internal/util"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMQTTEventSinkActorHealth(t *testing.T) {
	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTEventSinkActor(&cfg, logger) })
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)
	assert.Equal(t, domain.ACTOR_ID_MQTT, resp.Id)

	context.Stop(pid)
	as.Shutdown()
}

func TestMQTTEventSinkClientDoesNotBlock(t *testing.T) {
	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTEventSinkActor(&cfg, logger) })
	pid := context.Spawn(props)

	client := NewMQTTEventSinkClient(context, pid)

	snapshot := domain.EngineSnapshot{
		Batteries: []domain.BatterySnapshot{
			{Index: 0, Voltage: fixedpoint.FromInt(12), SoC: fixedpoint.FromInt(80)},
		},
	}

	start := time.Now()
	assert.NoError(t, client.EmitSnapshot(snapshot))
	assert.NoError(t, client.EmitCalibrationProgress(1, 4))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	context.Stop(pid)
	as.Shutdown()
}
