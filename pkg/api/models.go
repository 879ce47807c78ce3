package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CreateDatasetRequest struct {
	Name           string   `json:"name"`
	TargetColumn   string   `json:"target_column"`
	FeatureColumns []string `json:"feature_columns"`
	SplitFraction  float64  `json:"split_fraction,omitempty"`
	SplitSeed      int64    `json:"split_seed,omitempty"`
}

type CreateDatasetResponse struct {
	DatasetId uuid.UUID `json:"dataset_id"`
}

type UploadDatasetResponse struct {
	DatasetId uuid.UUID `json:"dataset_id"`
	RowCount  int64     `json:"row_count"`
	SizeBytes int64     `json:"size_bytes"`
	TrainRows int64     `json:"train_rows"`
	TestRows  int64     `json:"test_rows"`
}

type Dataset struct {
	Id             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	TargetColumn   string    `json:"target_column"`
	FeatureColumns []string  `json:"feature_columns"`
	RowCount       int64     `json:"row_count"`
	SizeBytes      int64     `json:"size_bytes"`
	SplitFraction  float64   `json:"split_fraction"`
	SplitSeed      int64     `json:"split_seed"`
	Status         string    `json:"status"`
	CreationTime   time.Time `json:"creation_time"`
}

type ColumnSummary struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type ListDatasetsParams struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

type CreateProcessingJobRequest struct {
	DatasetId        uuid.UUID `json:"dataset_id"`
	Scaler           string    `json:"scaler,omitempty"`
	ChunkTargetBytes int64     `json:"chunk_target_bytes,omitempty"`
}

type CreateProcessingJobResponse struct {
	JobId uuid.UUID `json:"job_id"`
}

type ProcessingTask struct {
	TaskId         int        `json:"task_id"`
	Status         string     `json:"status"`
	TotalSize      int64      `json:"total_size"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

type ProcessingJob struct {
	Id             uuid.UUID        `json:"id"`
	DatasetId      uuid.UUID        `json:"dataset_id"`
	Scaler         string           `json:"scaler"`
	Status         string           `json:"status"`
	CreationTime   time.Time        `json:"creation_time"`
	CompletionTime *time.Time       `json:"completion_time,omitempty"`
	Tasks          []ProcessingTask `json:"tasks,omitempty"`
	Errors         []string         `json:"errors,omitempty"`
}

type TrainRequest struct {
	Name            string          `json:"name"`
	DatasetId       uuid.UUID       `json:"dataset_id"`
	Algorithm       string          `json:"algorithm,omitempty"`
	Hyperparameters json.RawMessage `json:"hyperparameters,omitempty"`
	Checkpointing   bool            `json:"checkpointing,omitempty"`
}

type TrainSubmitResponse struct {
	Message string    `json:"message"`
	ModelId uuid.UUID `json:"model_id"`
}

type Model struct {
	Id              uuid.UUID          `json:"id"`
	Name            string             `json:"name"`
	DatasetId       *uuid.UUID         `json:"dataset_id,omitempty"`
	TuningJobId     *uuid.UUID         `json:"tuning_job_id,omitempty"`
	Algorithm       string             `json:"algorithm"`
	Status          string             `json:"status"`
	Hyperparameters json.RawMessage    `json:"hyperparameters,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Checkpointing   bool               `json:"checkpointing"`
	CreationTime    time.Time          `json:"creation_time"`
	CompletionTime  *time.Time         `json:"completion_time,omitempty"`
}

type ListModelsParams struct {
	Status string `schema:"status"`
	Name   string `schema:"name"`
	Limit  int    `schema:"limit"`
}

type CreateTuningJobRequest struct {
	Name        string          `json:"name"`
	DatasetId   uuid.UUID       `json:"dataset_id"`
	Algorithm   string          `json:"algorithm,omitempty"`
	Objective   string          `json:"objective"`
	Goal        string          `json:"goal"`
	Strategy    string          `json:"strategy"`
	MaxTrials   int             `json:"max_trials,omitempty"`
	Parallelism int             `json:"parallelism,omitempty"`
	Seed        int64           `json:"seed,omitempty"`
	SearchSpace json.RawMessage `json:"search_space"`
}

type CreateTuningJobResponse struct {
	TuningJobId uuid.UUID `json:"tuning_job_id"`
	NumTrials   int       `json:"num_trials"`
}

type TuningJob struct {
	Id             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	DatasetId      uuid.UUID  `json:"dataset_id"`
	Algorithm      string     `json:"algorithm"`
	Objective      string     `json:"objective"`
	Goal           string     `json:"goal"`
	Strategy       string     `json:"strategy"`
	Parallelism    int        `json:"parallelism"`
	Status         string     `json:"status"`
	BestModelId    *uuid.UUID `json:"best_model_id,omitempty"`
	Trials         []Model    `json:"trials,omitempty"`
	CreationTime   time.Time  `json:"creation_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

type CreatePipelineRequest struct {
	Definition string `json:"definition"` // YAML
}

type CreatePipelineResponse struct {
	PipelineId uuid.UUID `json:"pipeline_id"`
	Name       string    `json:"name"`
}

type Pipeline struct {
	Id           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Definition   string    `json:"definition"`
	CreationTime time.Time `json:"creation_time"`
}

type StartPipelineRunResponse struct {
	RunId uuid.UUID `json:"run_id"`
}

type StepRun struct {
	Name           string            `json:"name"`
	Status         string            `json:"status"`
	Output         map[string]string `json:"output,omitempty"`
	Error          string            `json:"error,omitempty"`
	StartTime      *time.Time        `json:"start_time,omitempty"`
	CompletionTime *time.Time        `json:"completion_time,omitempty"`
}

type PipelineRun struct {
	Id             uuid.UUID  `json:"id"`
	PipelineId     uuid.UUID  `json:"pipeline_id"`
	Status         string     `json:"status"`
	Steps          []StepRun  `json:"steps,omitempty"`
	CreationTime   time.Time  `json:"creation_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

type EndpointVariant struct {
	Name            string    `json:"name"`
	ModelId         uuid.UUID `json:"model_id"`
	Weight          float64   `json:"weight"`
	InvocationCount int64     `json:"invocation_count"`
}

type CreateEndpointRequest struct {
	Name           string            `json:"name"`
	Mode           string            `json:"mode,omitempty"`
	CaptureEnabled bool              `json:"capture_enabled,omitempty"`
	CapturePercent int               `json:"capture_percent,omitempty"`
	Variants       []EndpointVariant `json:"variants,omitempty"`
}

type CreateEndpointResponse struct {
	EndpointId uuid.UUID `json:"endpoint_id"`
}

type Endpoint struct {
	Id             uuid.UUID         `json:"id"`
	Name           string            `json:"name"`
	Status         string            `json:"status"`
	Mode           string            `json:"mode"`
	CaptureEnabled bool              `json:"capture_enabled"`
	CapturePercent int               `json:"capture_percent"`
	Variants       []EndpointVariant `json:"variants,omitempty"`
	CreationTime   time.Time         `json:"creation_time"`
}

type UpdateEndpointWeightsRequest struct {
	Weights map[string]float64 `json:"weights"`
}

type InvokeRequest struct {
	Features      map[string]float64 `json:"features"`
	TargetModelId *uuid.UUID         `json:"target_model_id,omitempty"`
}

type InvokeResponse struct {
	Prediction float64   `json:"prediction"`
	Variant    string    `json:"variant"`
	ModelId    uuid.UUID `json:"model_id"`
}

type CreateMonitorRequest struct {
	EndpointId      uuid.UUID `json:"endpoint_id"`
	DatasetId       uuid.UUID `json:"dataset_id"`
	IntervalSeconds int       `json:"interval_seconds,omitempty"`
	AlertRule       string    `json:"alert_rule,omitempty"`
}

type CreateMonitorResponse struct {
	MonitorId uuid.UUID `json:"monitor_id"`
}

type MonitorRun struct {
	Id             uuid.UUID          `json:"id"`
	Status         string             `json:"status"`
	SampleCount    int64              `json:"sample_count"`
	DriftScores    map[string]float64 `json:"drift_scores,omitempty"`
	Violations     int                `json:"violations"`
	CreationTime   time.Time          `json:"creation_time"`
	CompletionTime *time.Time         `json:"completion_time,omitempty"`
}

type Monitor struct {
	Id              uuid.UUID    `json:"id"`
	EndpointId      uuid.UUID    `json:"endpoint_id"`
	IntervalSeconds int          `json:"interval_seconds"`
	AlertRule       string       `json:"alert_rule,omitempty"`
	Status          string       `json:"status"`
	LastRunTime     *time.Time   `json:"last_run_time,omitempty"`
	Runs            []MonitorRun `json:"runs,omitempty"`
	CreationTime    time.Time    `json:"creation_time"`
}

type WarehouseQueryRequest struct {
	Query string `json:"query"`
}

type WarehouseQueryResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type CellUpdate struct {
	Row    int     `json:"row"`
	Column string  `json:"column"`
	Value  float64 `json:"value"`
}

type WarehouseUpdateRequest struct {
	Query     string       `json:"query"`
	Table     string       `json:"table"`
	KeyColumn string       `json:"key_column"`
	Updates   []CellUpdate `json:"updates"`
}

type WarehouseUpdateResponse struct {
	RowsUpdated int `json:"rows_updated"`
}

type WarehouseImportRequest struct {
	Name           string   `json:"name"`
	Query          string   `json:"query"`
	TargetColumn   string   `json:"target_column"`
	FeatureColumns []string `json:"feature_columns"`
	SplitFraction  float64  `json:"split_fraction,omitempty"`
	SplitSeed      int64    `json:"split_seed,omitempty"`
}
