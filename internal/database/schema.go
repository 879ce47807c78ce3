package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ModelQueued   string = "QUEUED"
	ModelTraining string = "TRAINING"
	ModelTrained  string = "TRAINED"
	ModelFailed   string = "FAILED"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
	JobSkipped   string = "SKIPPED"
)

const (
	EndpointCreating  string = "CREATING"
	EndpointInService string = "IN_SERVICE"
	EndpointUpdating  string = "UPDATING"
	EndpointDeleting  string = "DELETING"
	EndpointDeleted   string = "DELETED"
)

const (
	MonitorActive  string = "ACTIVE"
	MonitorStopped string = "STOPPED"
)

const (
	EndpointModeSingle     string = "single"
	EndpointModeMultiModel string = "multi-model"
)

type Dataset struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name   string `gorm:"not null"`
	Bucket string
	Prefix string

	TargetColumn   string
	FeatureColumns datatypes.JSON `gorm:"type:jsonb"` // ["col",...]

	RowCount  int64
	SizeBytes int64

	// Set once the dataset has been split into train/test objects.
	SplitFraction float64
	SplitSeed     int64

	Status       string `gorm:"size:20;not null"`
	CreationTime time.Time
}

type ProcessingJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DatasetId uuid.UUID `gorm:"type:uuid"`
	Dataset   *Dataset  `gorm:"foreignKey:DatasetId"`

	Scaler           string `gorm:"size:20;not null"`
	ChunkTargetBytes int64

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	CompletionTime sql.NullTime

	Tasks  []ProcessingTask `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
	Errors []JobError       `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type ProcessingTask struct {
	JobId  uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TaskId int            `gorm:"primaryKey"`
	Job    *ProcessingJob `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	SourceKeys datatypes.JSON `gorm:"type:jsonb"` // ["key",...]
	TotalSize  int64
}

type Model struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	BaseModelId uuid.NullUUID `gorm:"type:uuid"`
	BaseModel   *Model        `gorm:"foreignKey:BaseModelId"`

	TuningJobId uuid.NullUUID `gorm:"type:uuid;index"`
	DatasetId   uuid.NullUUID `gorm:"type:uuid"`

	Name      string
	Algorithm string `gorm:"size:20;not null"`
	Status    string `gorm:"size:20;not null"`

	Hyperparameters datatypes.JSON `gorm:"type:jsonb"`
	Metrics         datatypes.JSON `gorm:"type:jsonb"`

	ArtifactPath  string
	Checkpointing bool `gorm:"default:false"`

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

type TuningJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name      string
	DatasetId uuid.UUID `gorm:"type:uuid"`
	Algorithm string    `gorm:"size:20;not null"`

	Objective string `gorm:"not null"` // e.g. "validation:rmse"
	Goal      string `gorm:"size:20;not null"`
	Strategy  string `gorm:"size:20;not null"`

	MaxTrials   int
	Parallelism int

	SearchSpace datatypes.JSON `gorm:"type:jsonb"`

	BestModelId uuid.NullUUID `gorm:"type:uuid"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	CompletionTime sql.NullTime

	Trials []Model `gorm:"foreignKey:TuningJobId"`
}

type Pipeline struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name       string         `gorm:"not null"`
	Definition datatypes.JSON `gorm:"type:jsonb;not null"`

	CreationTime time.Time
}

type PipelineRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	PipelineId uuid.UUID `gorm:"type:uuid"`
	Pipeline   *Pipeline `gorm:"foreignKey:PipelineId"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	CompletionTime sql.NullTime

	Steps []StepRun `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type StepRun struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name  string    `gorm:"primaryKey"`

	Status         string `gorm:"size:20;not null"`
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Output datatypes.JSON `gorm:"type:jsonb"` // {"model_id":"…","dataset_id":"…",…}
	Error  string
}

type Endpoint struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name   string `gorm:"index;not null"`
	Status string `gorm:"size:20;not null"`
	Mode   string `gorm:"size:20;not null"`

	CaptureEnabled bool `gorm:"default:false"`
	CapturePercent int  `gorm:"default:100"`

	CreationTime time.Time

	Variants []EndpointVariant `gorm:"foreignKey:EndpointId;constraint:OnDelete:CASCADE"`
}

type EndpointVariant struct {
	EndpointId  uuid.UUID `gorm:"type:uuid;primaryKey"`
	VariantName string    `gorm:"primaryKey"`

	ModelId uuid.UUID `gorm:"type:uuid"`
	Model   *Model    `gorm:"foreignKey:ModelId"`

	Weight float64 `gorm:"not null"`

	InvocationCount int64 `gorm:"default:0"`
}

type MonitorSchedule struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	EndpointId uuid.UUID `gorm:"type:uuid"`
	Endpoint   *Endpoint `gorm:"foreignKey:EndpointId"`

	IntervalSeconds int
	Baseline        datatypes.JSON `gorm:"type:jsonb"` // {"feature":{"mean":…,"std":…},…}
	AlertRule       string

	Status       string `gorm:"size:20;not null"`
	LastRunTime  sql.NullTime
	CreationTime time.Time

	Runs []MonitorRun `gorm:"foreignKey:ScheduleId;constraint:OnDelete:CASCADE"`
}

type MonitorRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ScheduleId uuid.UUID `gorm:"type:uuid"`

	Status         string `gorm:"size:20;not null"`
	SampleCount    int64
	DriftScores    datatypes.JSON `gorm:"type:jsonb"` // {"feature":score,…}
	Violations     int
	CreationTime   time.Time
	CompletionTime sql.NullTime
}

type JobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
