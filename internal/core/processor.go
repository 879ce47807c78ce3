package core

import (
	"context"
	"encoding/json"
	"log/slog"

	"mlops-backend/internal/messaging"
	"mlops-backend/internal/storage"

	"gorm.io/gorm"
)

// TaskProcessor is the worker loop. It consumes tasks from the queue and runs
// training, preprocessing, pipeline, and monitor work against the database
// and object store.
type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	receiver  messaging.Receiver

	bucket string

	// A checkpoint is written every checkpointEvery epochs for models that
	// have checkpointing enabled.
	checkpointEvery int
}

const defaultCheckpointEvery = 10

func NewTaskProcessor(db *gorm.DB, store storage.ObjectStore, publisher messaging.Publisher, receiver messaging.Receiver, bucket string) *TaskProcessor {
	return &TaskProcessor{
		db:              db,
		storage:         store,
		publisher:       publisher,
		receiver:        receiver,
		bucket:          bucket,
		checkpointEvery: defaultCheckpointEvery,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.receiver.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.TrainingQueue:
		var payload messaging.TrainTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling train task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processTrainTask(ctx, payload)

	case messaging.ProcessDataQueue:
		var payload messaging.ProcessDataPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling process data task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processProcessDataTask(ctx, payload)

	case messaging.ProcessShardQueue:
		var payload messaging.ProcessShardPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling process shard task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processProcessShardTask(ctx, payload)

	case messaging.PipelineQueue:
		var payload messaging.PipelineRunPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling pipeline run task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processPipelineRunTask(ctx, payload)

	case messaging.MonitorQueue:
		var payload messaging.MonitorRunPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling monitor run task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processMonitorRunTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}
