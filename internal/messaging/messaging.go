package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TrainingQueue     = "training_queue"
	ProcessDataQueue  = "process_data_queue"
	ProcessShardQueue = "process_shard_queue"
	PipelineQueue     = "pipeline_queue"
	MonitorQueue      = "monitor_queue"

	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type TrainTaskPayload struct {
	ModelId uuid.UUID
}

type ProcessDataPayload struct {
	JobId uuid.UUID
}

type ProcessShardPayload struct {
	JobId  uuid.UUID
	TaskId int
}

type PipelineRunPayload struct {
	RunId uuid.UUID
}

type MonitorRunPayload struct {
	ScheduleId uuid.UUID
	RunId      uuid.UUID
}

type Publisher interface {
	PublishTrainTask(ctx context.Context, payload TrainTaskPayload) error

	PublishProcessDataTask(ctx context.Context, payload ProcessDataPayload) error

	PublishProcessShardTask(ctx context.Context, payload ProcessShardPayload) error

	PublishPipelineRunTask(ctx context.Context, payload PipelineRunPayload) error

	PublishMonitorRunTask(ctx context.Context, payload MonitorRunPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}

func allQueues() []string {
	return []string{TrainingQueue, ProcessDataQueue, ProcessShardQueue, PipelineQueue, MonitorQueue}
}
