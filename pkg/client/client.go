package client

import (
	"bytes"
	"context"
	"fmt"

	"mlops-backend/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Client is a thin HTTP wrapper over the backend API.
type Client struct {
	http *resty.Client
}

func New(baseURL string) *Client {
	return &Client{http: resty.New().SetBaseURL(baseURL)}
}

func checkResponse(res *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return fmt.Errorf("request to %s failed with status %d: %s", res.Request.URL, res.StatusCode(), res.String())
	}
	return nil
}

func get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var result T
	res, err := c.http.R().SetContext(ctx).SetResult(&result).Get(path)
	if err := checkResponse(res, err); err != nil {
		return result, err
	}
	return result, nil
}

func post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var result T
	req := c.http.R().SetContext(ctx).SetResult(&result)
	if body != nil {
		req = req.SetBody(body)
	}
	res, err := req.Post(path)
	if err := checkResponse(res, err); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Client) Health(ctx context.Context) error {
	res, err := c.http.R().SetContext(ctx).Get("/health")
	return checkResponse(res, err)
}

func (c *Client) CreateDataset(ctx context.Context, req api.CreateDatasetRequest) (api.CreateDatasetResponse, error) {
	return post[api.CreateDatasetResponse](ctx, c, "/datasets", req)
}

// UploadDataset sends the raw CSV bytes as the dataset contents.
func (c *Client) UploadDataset(ctx context.Context, datasetId uuid.UUID, csv []byte) (api.UploadDatasetResponse, error) {
	var result api.UploadDatasetResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/csv").
		SetBody(bytes.NewReader(csv)).
		SetResult(&result).
		Post(fmt.Sprintf("/datasets/%s/upload", datasetId))
	if err := checkResponse(res, err); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Client) ListDatasets(ctx context.Context) ([]api.Dataset, error) {
	return get[[]api.Dataset](ctx, c, "/datasets")
}

func (c *Client) GetDataset(ctx context.Context, datasetId uuid.UUID) (api.Dataset, error) {
	return get[api.Dataset](ctx, c, fmt.Sprintf("/datasets/%s", datasetId))
}

func (c *Client) GetDatasetSummary(ctx context.Context, datasetId uuid.UUID) ([]api.ColumnSummary, error) {
	return get[[]api.ColumnSummary](ctx, c, fmt.Sprintf("/datasets/%s/summary", datasetId))
}

func (c *Client) DeleteDataset(ctx context.Context, datasetId uuid.UUID) error {
	res, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/datasets/%s", datasetId))
	return checkResponse(res, err)
}

func (c *Client) CreateProcessingJob(ctx context.Context, req api.CreateProcessingJobRequest) (api.CreateProcessingJobResponse, error) {
	return post[api.CreateProcessingJobResponse](ctx, c, "/processing", req)
}

func (c *Client) GetProcessingJob(ctx context.Context, jobId uuid.UUID) (api.ProcessingJob, error) {
	return get[api.ProcessingJob](ctx, c, fmt.Sprintf("/processing/%s", jobId))
}

func (c *Client) SubmitTrainingJob(ctx context.Context, req api.TrainRequest) (api.TrainSubmitResponse, error) {
	return post[api.TrainSubmitResponse](ctx, c, "/models", req)
}

func (c *Client) ListModels(ctx context.Context) ([]api.Model, error) {
	return get[[]api.Model](ctx, c, "/models")
}

func (c *Client) GetModel(ctx context.Context, modelId uuid.UUID) (api.Model, error) {
	return get[api.Model](ctx, c, fmt.Sprintf("/models/%s", modelId))
}

func (c *Client) DeleteModel(ctx context.Context, modelId uuid.UUID) error {
	res, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/models/%s", modelId))
	return checkResponse(res, err)
}

func (c *Client) CreateTuningJob(ctx context.Context, req api.CreateTuningJobRequest) (api.CreateTuningJobResponse, error) {
	return post[api.CreateTuningJobResponse](ctx, c, "/tuning", req)
}

func (c *Client) GetTuningJob(ctx context.Context, tuningJobId uuid.UUID) (api.TuningJob, error) {
	return get[api.TuningJob](ctx, c, fmt.Sprintf("/tuning/%s", tuningJobId))
}

func (c *Client) CreatePipeline(ctx context.Context, definition string) (api.CreatePipelineResponse, error) {
	return post[api.CreatePipelineResponse](ctx, c, "/pipelines", api.CreatePipelineRequest{Definition: definition})
}

func (c *Client) ListPipelines(ctx context.Context) ([]api.Pipeline, error) {
	return get[[]api.Pipeline](ctx, c, "/pipelines")
}

func (c *Client) GetPipeline(ctx context.Context, pipelineId uuid.UUID) (api.Pipeline, error) {
	return get[api.Pipeline](ctx, c, fmt.Sprintf("/pipelines/%s", pipelineId))
}

func (c *Client) StartPipelineRun(ctx context.Context, pipelineId uuid.UUID) (api.StartPipelineRunResponse, error) {
	return post[api.StartPipelineRunResponse](ctx, c, fmt.Sprintf("/pipelines/%s/runs", pipelineId), nil)
}

func (c *Client) GetPipelineRun(ctx context.Context, pipelineId, runId uuid.UUID) (api.PipelineRun, error) {
	return get[api.PipelineRun](ctx, c, fmt.Sprintf("/pipelines/%s/runs/%s", pipelineId, runId))
}

func (c *Client) CreateEndpoint(ctx context.Context, req api.CreateEndpointRequest) (api.CreateEndpointResponse, error) {
	return post[api.CreateEndpointResponse](ctx, c, "/endpoints", req)
}

func (c *Client) ListEndpoints(ctx context.Context) ([]api.Endpoint, error) {
	return get[[]api.Endpoint](ctx, c, "/endpoints")
}

func (c *Client) GetEndpoint(ctx context.Context, endpointId uuid.UUID) (api.Endpoint, error) {
	return get[api.Endpoint](ctx, c, fmt.Sprintf("/endpoints/%s", endpointId))
}

func (c *Client) UpdateEndpointWeights(ctx context.Context, endpointId uuid.UUID, weights map[string]float64) (api.Endpoint, error) {
	var result api.Endpoint
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(api.UpdateEndpointWeightsRequest{Weights: weights}).
		SetResult(&result).
		Put(fmt.Sprintf("/endpoints/%s/weights", endpointId))
	if err := checkResponse(res, err); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Client) Invoke(ctx context.Context, endpointId uuid.UUID, req api.InvokeRequest) (api.InvokeResponse, error) {
	return post[api.InvokeResponse](ctx, c, fmt.Sprintf("/endpoints/%s/invoke", endpointId), req)
}

func (c *Client) DeleteEndpoint(ctx context.Context, endpointId uuid.UUID) error {
	res, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/endpoints/%s", endpointId))
	return checkResponse(res, err)
}

func (c *Client) CreateMonitor(ctx context.Context, req api.CreateMonitorRequest) (api.CreateMonitorResponse, error) {
	return post[api.CreateMonitorResponse](ctx, c, "/monitors", req)
}

func (c *Client) GetMonitor(ctx context.Context, monitorId uuid.UUID) (api.Monitor, error) {
	return get[api.Monitor](ctx, c, fmt.Sprintf("/monitors/%s", monitorId))
}

func (c *Client) StopMonitor(ctx context.Context, monitorId uuid.UUID) error {
	res, err := c.http.R().SetContext(ctx).Post(fmt.Sprintf("/monitors/%s/stop", monitorId))
	return checkResponse(res, err)
}

func (c *Client) WarehouseQuery(ctx context.Context, query string) (api.WarehouseQueryResponse, error) {
	return post[api.WarehouseQueryResponse](ctx, c, "/warehouse/query", api.WarehouseQueryRequest{Query: query})
}

func (c *Client) WarehouseUpdate(ctx context.Context, req api.WarehouseUpdateRequest) (api.WarehouseUpdateResponse, error) {
	return post[api.WarehouseUpdateResponse](ctx, c, "/warehouse/update", req)
}

func (c *Client) WarehouseImport(ctx context.Context, req api.WarehouseImportRequest) (api.UploadDatasetResponse, error) {
	return post[api.UploadDatasetResponse](ctx, c, "/warehouse/import", req)
}
