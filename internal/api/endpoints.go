package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mlops-backend/internal/core"
	"mlops-backend/internal/database"
	"mlops-backend/internal/serving"
	"mlops-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *BackendService) CreateEndpoint(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateEndpointRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = database.EndpointModeSingle
	}
	if mode != database.EndpointModeSingle && mode != database.EndpointModeMultiModel {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid endpoint mode %q", mode)
	}

	if mode == database.EndpointModeSingle && len(req.Variants) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "a single mode endpoint requires at least one variant")
	}

	capturePercent := req.CapturePercent
	if capturePercent == 0 {
		capturePercent = 100
	}
	if capturePercent < 0 || capturePercent > 100 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "capture_percent must be between 0 and 100")
	}

	ctx := r.Context()

	// Names are reusable once the previous endpoint is deleted.
	var nameCount int64
	if err := s.db.WithContext(ctx).Model(&database.Endpoint{}).
		Where("name = ? AND status != ?", req.Name, database.EndpointDeleted).
		Count(&nameCount).Error; err != nil {
		slog.Error("error checking endpoint name", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create endpoint")
	}
	if nameCount > 0 {
		return nil, CodedErrorf(http.StatusConflict, "an endpoint named %q already exists", req.Name)
	}

	seen := make(map[string]bool)
	variants := make([]database.EndpointVariant, 0, len(req.Variants))
	for _, variant := range req.Variants {
		if err := validateName(variant.Name); err != nil {
			return nil, err
		}
		if seen[variant.Name] {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "duplicate variant name %q", variant.Name)
		}
		seen[variant.Name] = true

		if variant.Weight <= 0 {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "variant %q must have a positive weight", variant.Name)
		}

		var model database.Model
		if err := s.db.WithContext(ctx).First(&model, "id = ?", variant.ModelId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, CodedErrorf(http.StatusNotFound, "model %s not found", variant.ModelId)
			}
			return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
		}
		if model.Status != database.ModelTrained {
			return nil, CodedErrorf(http.StatusConflict, "model %s is not trained", variant.ModelId)
		}

		variants = append(variants, database.EndpointVariant{
			VariantName: variant.Name,
			ModelId:     variant.ModelId,
			Weight:      variant.Weight,
		})
	}

	endpoint := database.Endpoint{
		Id:             uuid.New(),
		Name:           req.Name,
		Status:         database.EndpointCreating,
		Mode:           mode,
		CaptureEnabled: req.CaptureEnabled,
		CapturePercent: capturePercent,
		CreationTime:   time.Now().UTC(),
		Variants:       variants,
	}
	if err := s.db.WithContext(ctx).Create(&endpoint).Error; err != nil {
		slog.Error("error creating endpoint", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create endpoint")
	}

	if err := database.UpdateEndpointStatus(ctx, s.db, endpoint.Id, database.EndpointInService); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to bring endpoint in service")
	}

	slog.Info("created endpoint", "endpoint_id", endpoint.Id, "mode", mode, "variants", len(variants))

	return api.CreateEndpointResponse{EndpointId: endpoint.Id}, nil
}

func (s *BackendService) ListEndpoints(r *http.Request) (any, error) {
	var endpoints []database.Endpoint
	if err := s.db.WithContext(r.Context()).Preload("Variants").
		Order("creation_time DESC").Find(&endpoints).Error; err != nil {
		slog.Error("error listing endpoints", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing endpoints")
	}

	res := make([]api.Endpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		res = append(res, toApiEndpoint(endpoint))
	}
	return res, nil
}

func (s *BackendService) getEndpoint(r *http.Request, endpointId uuid.UUID) (database.Endpoint, error) {
	var endpoint database.Endpoint
	if err := s.db.WithContext(r.Context()).Preload("Variants").
		First(&endpoint, "id = ?", endpointId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return endpoint, CodedErrorf(http.StatusNotFound, "endpoint not found")
		}
		return endpoint, CodedErrorf(http.StatusInternalServerError, "error retrieving endpoint record")
	}
	return endpoint, nil
}

func (s *BackendService) GetEndpoint(r *http.Request) (any, error) {
	endpointId, err := URLParamUUID(r, "endpoint_id")
	if err != nil {
		return nil, err
	}

	endpoint, err := s.getEndpoint(r, endpointId)
	if err != nil {
		return nil, err
	}
	return toApiEndpoint(endpoint), nil
}

// UpdateEndpointWeights shifts traffic between existing variants. Weights for
// every named variant must be positive; variants not named keep their weight.
func (s *BackendService) UpdateEndpointWeights(r *http.Request) (any, error) {
	endpointId, err := URLParamUUID(r, "endpoint_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.UpdateEndpointWeightsRequest](r)
	if err != nil {
		return nil, err
	}
	if len(req.Weights) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "no weights provided")
	}

	endpoint, err := s.getEndpoint(r, endpointId)
	if err != nil {
		return nil, err
	}
	if endpoint.Status != database.EndpointInService {
		return nil, CodedErrorf(http.StatusConflict, "endpoint %s is %s", endpointId, endpoint.Status)
	}

	known := make(map[string]bool, len(endpoint.Variants))
	for _, variant := range endpoint.Variants {
		known[variant.VariantName] = true
	}
	for name, weight := range req.Weights {
		if !known[name] {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "endpoint has no variant %q", name)
		}
		if weight <= 0 {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "weight for variant %q must be positive", name)
		}
	}

	ctx := r.Context()

	if err := database.UpdateEndpointStatus(ctx, s.db, endpointId, database.EndpointUpdating); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update endpoint status")
	}

	for name, weight := range req.Weights {
		err := s.db.WithContext(ctx).Model(&database.EndpointVariant{}).
			Where("endpoint_id = ? AND variant_name = ?", endpointId, name).
			Update("weight", weight).Error
		if err != nil {
			slog.Error("error updating variant weight", "endpoint_id", endpointId, "variant", name, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to update variant weight")
		}
	}

	if err := database.UpdateEndpointStatus(ctx, s.db, endpointId, database.EndpointInService); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update endpoint status")
	}

	slog.Info("updated endpoint weights", "endpoint_id", endpointId)

	return s.GetEndpoint(r)
}

func (s *BackendService) Invoke(r *http.Request) (any, error) {
	endpointId, err := URLParamUUID(r, "endpoint_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.InvokeRequest](r)
	if err != nil {
		return nil, err
	}
	if len(req.Features) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "no features provided")
	}

	var target uuid.NullUUID
	if req.TargetModelId != nil {
		target = uuid.NullUUID{UUID: *req.TargetModelId, Valid: true}
	}

	result, err := s.serving.Invoke(r.Context(), endpointId, req.Features, target)
	if err != nil {
		switch {
		case errors.Is(err, serving.ErrEndpointNotFound):
			return nil, CodedError(http.StatusNotFound, err)
		case errors.Is(err, serving.ErrEndpointNotServing), errors.Is(err, serving.ErrModelNotReady):
			return nil, CodedError(http.StatusConflict, err)
		default:
			return nil, CodedError(http.StatusBadRequest, err)
		}
	}

	return api.InvokeResponse{
		Prediction: result.Prediction,
		Variant:    result.VariantName,
		ModelId:    result.ModelId,
	}, nil
}

// DeleteEndpoint tears down an endpoint. Captured invocations are removed from
// the object store and any monitors on the endpoint are stopped. The record is
// kept with a DELETED status.
func (s *BackendService) DeleteEndpoint(r *http.Request) (any, error) {
	endpointId, err := URLParamUUID(r, "endpoint_id")
	if err != nil {
		return nil, err
	}

	endpoint, err := s.getEndpoint(r, endpointId)
	if err != nil {
		return nil, err
	}
	if endpoint.Status == database.EndpointDeleted {
		return nil, nil
	}

	ctx := r.Context()

	if err := database.UpdateEndpointStatus(ctx, s.db, endpointId, database.EndpointDeleting); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update endpoint status")
	}

	err = s.db.WithContext(ctx).Model(&database.MonitorSchedule{}).
		Where("endpoint_id = ? AND status = ?", endpointId, database.MonitorActive).
		Update("status", database.MonitorStopped).Error
	if err != nil {
		slog.Error("error stopping endpoint monitors", "endpoint_id", endpointId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to stop endpoint monitors")
	}

	if err := s.storage.DeleteObjects(ctx, s.bucket, core.EndpointCapturePrefix(endpointId)); err != nil {
		slog.Error("error deleting captured invocations", "endpoint_id", endpointId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete captured invocations")
	}

	for _, variant := range endpoint.Variants {
		s.serving.EvictModel(variant.ModelId)
	}

	if err := database.UpdateEndpointStatus(ctx, s.db, endpointId, database.EndpointDeleted); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update endpoint status")
	}

	slog.Info("deleted endpoint", "endpoint_id", endpointId)

	return nil, nil
}
