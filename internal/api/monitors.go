package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/dataset"
	"mlops-backend/internal/monitor"
	"mlops-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultMonitorIntervalSeconds = 3600

// CreateMonitor schedules drift monitoring for an endpoint. The baseline
// distribution is computed from the training split of the given dataset, so
// the dataset should be the one the endpoint's models were trained on.
func (s *BackendService) CreateMonitor(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateMonitorRequest](r)
	if err != nil {
		return nil, err
	}

	interval := req.IntervalSeconds
	if interval == 0 {
		interval = defaultMonitorIntervalSeconds
	}
	if interval < 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "interval_seconds must be positive")
	}

	if req.AlertRule != "" {
		if _, err := monitor.ParseRule(req.AlertRule); err != nil {
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		}
	}

	endpoint, err := s.getEndpoint(r, req.EndpointId)
	if err != nil {
		return nil, err
	}
	if endpoint.Status != database.EndpointInService {
		return nil, CodedErrorf(http.StatusConflict, "endpoint %s is %s", endpoint.Id, endpoint.Status)
	}
	if !endpoint.CaptureEnabled {
		return nil, CodedErrorf(http.StatusConflict, "endpoint %s does not capture invocations", endpoint.Id)
	}

	ds, err := s.getCompletedDataset(r, req.DatasetId)
	if err != nil {
		return nil, err
	}

	featureColumns, err := core.ParseFeatureColumns(ds.FeatureColumns)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "dataset %s has invalid feature columns", ds.Id)
	}

	ctx := r.Context()

	data, err := s.storage.GetObject(ctx, s.bucket, core.DatasetTrainKey(ds.Id))
	if err != nil {
		slog.Error("error reading training data", "dataset_id", ds.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error reading training data")
	}
	table, err := dataset.ReadTable(bytes.NewReader(data))
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error parsing training data")
	}

	baseline, err := monitor.BaselineFromSummaries(dataset.Summarize(table), featureColumns)
	if err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}
	baselineJson, err := baseline.Bytes()
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize baseline")
	}

	schedule := database.MonitorSchedule{
		Id:              uuid.New(),
		EndpointId:      req.EndpointId,
		IntervalSeconds: interval,
		Baseline:        datatypes.JSON(baselineJson),
		AlertRule:       req.AlertRule,
		Status:          database.MonitorActive,
		CreationTime:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&schedule).Error; err != nil {
		slog.Error("error creating monitor schedule", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create monitor")
	}

	slog.Info("created monitor", "monitor_id", schedule.Id, "endpoint_id", req.EndpointId, "interval_seconds", interval)

	return api.CreateMonitorResponse{MonitorId: schedule.Id}, nil
}

func (s *BackendService) GetMonitor(r *http.Request) (any, error) {
	monitorId, err := URLParamUUID(r, "monitor_id")
	if err != nil {
		return nil, err
	}

	var schedule database.MonitorSchedule
	if err := s.db.WithContext(r.Context()).Preload("Runs").
		First(&schedule, "id = ?", monitorId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "monitor not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving monitor")
	}

	return toApiMonitor(schedule), nil
}

func (s *BackendService) StopMonitor(r *http.Request) (any, error) {
	monitorId, err := URLParamUUID(r, "monitor_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	res := s.db.WithContext(ctx).Model(&database.MonitorSchedule{}).
		Where("id = ?", monitorId).Update("status", database.MonitorStopped)
	if res.Error != nil {
		slog.Error("error stopping monitor", "monitor_id", monitorId, "error", res.Error)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to stop monitor")
	}
	if res.RowsAffected == 0 {
		return nil, CodedErrorf(http.StatusNotFound, "monitor not found")
	}

	slog.Info("stopped monitor", "monitor_id", monitorId)

	return nil, nil
}
