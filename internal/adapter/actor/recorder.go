package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/core/port"
	"bms/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// RecorderActor is the Go-service analogue of the original firmware's
// SD-card FAT recorder (spec.md §1 externalizes it). It is the other half
// of port.EventSink alongside MQTTEventSinkActor: RecorderEventSinkClient
// fires the same emitSnapshot/emitCalibrationProgress messages at it, so
// every snapshot the monitor ever emits lands in both places without the
// monitor knowing there's more than one sink. It keeps a bounded ring of
// the most recent snapshots in memory and, independently, appends the
// newest one to a newline-delimited JSON file on a cron schedule. A
// failed write is logged and dropped, never escalated, matching spec.md
// §7's non-fatal error posture for anything other than the allocator
// itself.
type RecorderActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash

	cfg config.RecorderConfig

	scheduler quartz.Scheduler
	cancel    context.CancelFunc

	ring []recordedLine

	logger *zap.Logger
}

type recordedLine struct {
	Time     time.Time             `json:"time"`
	Snapshot domain.EngineSnapshot `json:"snapshot"`
}

type recorderFlush struct{}

func NewRecorderActor(cfg config.RecorderConfig, logger *zap.Logger) *RecorderActor {
	act := &RecorderActor{
		cfg:      cfg,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_RECORDER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *RecorderActor) Receive(ctx actor.Context) {
	state.behavior.Receive(ctx)
}

func (state *RecorderActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("recorder@starting started")

		quartzCtx, cancel := context.WithCancel(context.Background())
		state.cancel = cancel
		state.scheduler = quartz.NewStdScheduler()
		state.scheduler.Start(quartzCtx)

		trigger, err := quartz.NewCronTrigger(state.cfg.Cron)
		if err != nil {
			panic(err)
		}
		self := ctx.Self()
		root := ctx.ActorSystem().Root
		flushJob := job.NewFunctionJob(func(context.Context) (int, error) {
			root.Send(self, recorderFlush{})
			return 0, nil
		})
		jobDetail := quartz.NewJobDetail(flushJob, quartz.NewJobKey("recorderFlush"))
		if err := state.scheduler.ScheduleJob(jobDetail, trigger); err != nil {
			panic(err)
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("recorder@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *RecorderActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_RECORDER, Healthy: true, State: "idle"})
	case emitSnapshot:
		state.ring = append(state.ring, recordedLine{Time: time.Now(), Snapshot: msg.Snapshot})
		if len(state.ring) > state.cfg.RingSize {
			state.ring = state.ring[len(state.ring)-state.cfg.RingSize:]
		}
	case emitCalibrationProgress:
		// calibration progress is transient UI feedback, not part of the
		// historical record this actor keeps.
	case recorderFlush:
		state.flush()
	default:
		state.logger.Debug("recorder@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *RecorderActor) flush() {
	if state.cfg.Path == "" || len(state.ring) == 0 {
		return
	}
	line := state.ring[len(state.ring)-1]
	encoded, err := json.Marshal(line)
	if err != nil {
		state.logger.Warn("recorder: marshal failed", zap.Error(err))
		return
	}
	f, err := os.OpenFile(state.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		state.logger.Warn("recorder: open failed", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(encoded, '\n')); err != nil {
		state.logger.Warn("recorder: write failed", zap.Error(err))
	}
}

func (state *RecorderActor) stop() {
	if state.cancel != nil {
		state.cancel()
	}
}

// RecorderEventSinkClient is RecorderActor's port.EventSink face, the
// same shape as MQTTEventSinkClient: fire a message at the actor's
// mailbox and return, so a slow disk can never stall a monitor tick.
type RecorderEventSinkClient struct {
	root *actor.RootContext
	pid  *actor.PID
}

func NewRecorderEventSinkClient(root *actor.RootContext, pid *actor.PID) *RecorderEventSinkClient {
	return &RecorderEventSinkClient{root: root, pid: pid}
}

func (c *RecorderEventSinkClient) EmitSnapshot(snapshot domain.EngineSnapshot) error {
	c.root.Send(c.pid, emitSnapshot{Snapshot: snapshot})
	return nil
}

func (c *RecorderEventSinkClient) EmitCalibrationProgress(test, numTests int) error {
	c.root.Send(c.pid, emitCalibrationProgress{Test: test, NumTests: numTests})
	return nil
}

var _ port.EventSink = (*RecorderEventSinkClient)(nil)
