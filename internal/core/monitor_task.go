package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mlops-backend/internal/capture"
	"mlops-backend/internal/database"
	"mlops-backend/internal/messaging"
	"mlops-backend/internal/monitor"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (proc *TaskProcessor) processMonitorRunTask(ctx context.Context, payload messaging.MonitorRunPayload) error {
	slog.Info("processing monitor run", "schedule_id", payload.ScheduleId, "run_id", payload.RunId)

	if err := proc.runMonitorPass(ctx, payload.ScheduleId, payload.RunId); err != nil {
		proc.db.WithContext(ctx).Model(&database.MonitorRun{Id: payload.RunId}).Updates(map[string]any{
			"status":          database.JobFailed,
			"completion_time": time.Now().UTC(),
		}) //nolint:errcheck
		return err
	}

	return nil
}

func (proc *TaskProcessor) runMonitorPass(ctx context.Context, scheduleId, runId uuid.UUID) error {
	var schedule database.MonitorSchedule
	if err := proc.db.WithContext(ctx).First(&schedule, "id = ?", scheduleId).Error; err != nil {
		return fmt.Errorf("error getting monitor schedule %s: %w", scheduleId, err)
	}

	if err := proc.db.WithContext(ctx).Model(&database.MonitorRun{Id: runId}).
		Update("status", database.JobRunning).Error; err != nil {
		return err
	}

	baseline, err := monitor.ParseBaseline(schedule.Baseline)
	if err != nil {
		return err
	}

	records, err := proc.readCapturedRecords(ctx, schedule.EndpointId, schedule.LastRunTime.Time)
	if err != nil {
		return err
	}

	// No traffic since the last run means there is nothing to score.
	if len(records) == 0 {
		now := time.Now().UTC()
		if err := proc.db.WithContext(ctx).Model(&database.MonitorRun{Id: runId}).Updates(map[string]any{
			"status":          database.JobSkipped,
			"completion_time": now,
		}).Error; err != nil {
			return fmt.Errorf("error saving monitor run: %w", err)
		}
		return proc.db.WithContext(ctx).Model(&database.MonitorSchedule{Id: scheduleId}).
			Update("last_run_time", now).Error
	}

	scores := baseline.DriftScores(capture.FeatureMeans(records))

	violations := 0
	if schedule.AlertRule != "" {
		rule, err := monitor.ParseRule(schedule.AlertRule)
		if err != nil {
			return err
		}
		fired, err := rule.Eval(monitor.RuleValues(scores, len(records)))
		if err != nil {
			return err
		}
		if fired {
			violations = 1
			slog.Warn("monitor alert rule fired",
				"schedule_id", scheduleId, "endpoint_id", schedule.EndpointId,
				"rule", schedule.AlertRule, "max_drift", monitor.MaxDrift(scores), "samples", len(records))
		}
	}

	scoresJson, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("error serializing drift scores: %w", err)
	}

	now := time.Now().UTC()
	if err := proc.db.WithContext(ctx).Model(&database.MonitorRun{Id: runId}).Updates(map[string]any{
		"status":          database.JobCompleted,
		"sample_count":    int64(len(records)),
		"drift_scores":    datatypes.JSON(scoresJson),
		"violations":      violations,
		"completion_time": now,
	}).Error; err != nil {
		return fmt.Errorf("error saving monitor run: %w", err)
	}

	if err := proc.db.WithContext(ctx).Model(&database.MonitorSchedule{Id: scheduleId}).
		Update("last_run_time", now).Error; err != nil {
		return fmt.Errorf("error updating monitor schedule: %w", err)
	}

	return nil
}

// readCapturedRecords loads every capture object of the endpoint and keeps
// the records newer than since.
func (proc *TaskProcessor) readCapturedRecords(ctx context.Context, endpointId uuid.UUID, since time.Time) ([]capture.Record, error) {
	objects, err := proc.storage.ListObjects(ctx, proc.bucket, EndpointCapturePrefix(endpointId))
	if err != nil {
		return nil, fmt.Errorf("error listing capture objects: %w", err)
	}

	var records []capture.Record
	for _, obj := range objects {
		data, err := proc.storage.GetObject(ctx, proc.bucket, obj.Name)
		if err != nil {
			return nil, fmt.Errorf("error fetching capture object %s: %w", obj.Name, err)
		}

		parsed, err := capture.ParseRecords(data)
		if err != nil {
			return nil, err
		}
		for _, record := range parsed {
			if record.Timestamp.After(since) {
				records = append(records, record)
			}
		}
	}

	return records, nil
}

// MonitorScheduler periodically queues monitor runs for active schedules
// whose interval has elapsed. It runs inside the worker alongside the task
// processor.
type MonitorScheduler struct {
	db        *gorm.DB
	publisher messaging.Publisher
	interval  time.Duration
	stop      chan struct{}
}

func NewMonitorScheduler(db *gorm.DB, publisher messaging.Publisher, interval time.Duration) *MonitorScheduler {
	return &MonitorScheduler{
		db:        db,
		publisher: publisher,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

func (s *MonitorScheduler) Start() {
	slog.Info("starting monitor scheduler", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Tick(context.Background()); err != nil {
				slog.Error("monitor scheduler tick failed", "error", err)
			}
		case <-s.stop:
			slog.Info("stopping monitor scheduler")
			return
		}
	}
}

func (s *MonitorScheduler) Stop() {
	close(s.stop)
}

// Tick queues a run for every due schedule.
func (s *MonitorScheduler) Tick(ctx context.Context) error {
	var schedules []database.MonitorSchedule
	if err := s.db.WithContext(ctx).Find(&schedules, "status = ?", database.MonitorActive).Error; err != nil {
		return fmt.Errorf("error listing monitor schedules: %w", err)
	}

	now := time.Now().UTC()
	for _, schedule := range schedules {
		if schedule.LastRunTime.Valid &&
			now.Sub(schedule.LastRunTime.Time) < time.Duration(schedule.IntervalSeconds)*time.Second {
			continue
		}

		run := database.MonitorRun{
			Id:           uuid.New(),
			ScheduleId:   schedule.Id,
			Status:       database.JobQueued,
			CreationTime: now,
		}
		if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
			slog.Error("error creating monitor run", "schedule_id", schedule.Id, "error", err)
			continue
		}

		if err := s.publisher.PublishMonitorRunTask(ctx, messaging.MonitorRunPayload{
			ScheduleId: schedule.Id,
			RunId:      run.Id,
		}); err != nil {
			slog.Error("error queueing monitor run", "schedule_id", schedule.Id, "error", err)
		}
	}

	return nil
}
