package core

import (
	"fmt"

	"github.com/google/uuid"
)

// Object store layout. Every dataset, job, model, and endpoint keeps its
// files under a fixed prefix so teardown can delete by prefix.

func DatasetPrefix(datasetId uuid.UUID) string {
	return fmt.Sprintf("datasets/%s", datasetId)
}

func DatasetRawKey(datasetId uuid.UUID) string {
	return DatasetPrefix(datasetId) + "/raw.csv"
}

func DatasetTrainKey(datasetId uuid.UUID) string {
	return DatasetPrefix(datasetId) + "/train.csv"
}

func DatasetTestKey(datasetId uuid.UUID) string {
	return DatasetPrefix(datasetId) + "/test.csv"
}

func ProcessingJobPrefix(jobId uuid.UUID) string {
	return fmt.Sprintf("jobs/%s", jobId)
}

func ScalerKey(jobId uuid.UUID) string {
	return ProcessingJobPrefix(jobId) + "/scaler.json"
}

func ShardKey(jobId uuid.UUID, taskId int) string {
	return fmt.Sprintf("%s/shards/shard-%04d.csv", ProcessingJobPrefix(jobId), taskId)
}

func ProcessedShardKey(jobId uuid.UUID, taskId int) string {
	return fmt.Sprintf("%s/processed/shard-%04d.csv", ProcessingJobPrefix(jobId), taskId)
}

func ModelPrefix(modelId uuid.UUID) string {
	return fmt.Sprintf("models/%s", modelId)
}

func ModelArtifactKey(modelId uuid.UUID) string {
	return ModelPrefix(modelId) + "/model.json"
}

func CheckpointKey(modelId uuid.UUID) string {
	return ModelPrefix(modelId) + "/checkpoint.json"
}

func EndpointCapturePrefix(endpointId uuid.UUID) string {
	return fmt.Sprintf("capture/%s", endpointId)
}

func CaptureKey(endpointId uuid.UUID, variantName string) string {
	return fmt.Sprintf("%s/%s.jsonl", EndpointCapturePrefix(endpointId), variantName)
}
