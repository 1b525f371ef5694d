package renders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/modules/usage"
	"go.uber.org/zap"
)

// Job statuses
const (
	StatusQueued = "queued"
)

// ErrInvalidRender is returned for a malformed submission
var ErrInvalidRender = errors.New("invalid render request")

// Enqueuer puts render tasks on a queue
type Enqueuer interface {
	EnqueueRenderExport(ctx context.Context, payload RenderExportPayload, queue string) (*asynq.TaskInfo, error)
}

// Recorder receives render metrics
type Recorder interface {
	RecordReservation(tier string, applied bool, renders int64, minutes float64)
	RecordRenderSubmission(queue string, success bool)
	RecordStorageError(operation string)
}

// Settings are the effective render settings after clamping
type Settings struct {
	Quality         entitlement.Quality `json:"quality"`
	Height          int                 `json:"height"`
	Preset          string              `json:"preset,omitempty"`
	AutoZoom        float64             `json:"autoZoom"`
	AdvancedEffects bool                `json:"advancedEffects"`
	Watermark       bool                `json:"watermark"`
}

// Job is an accepted render
type Job struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"accountId"`
	ProjectID      string    `json:"projectId"`
	Status         string    `json:"status"`
	Queue          string    `json:"queue"`
	Settings       Settings  `json:"settings"`
	Adjusted       []string  `json:"adjusted,omitempty"`
	MinutesCharged int64     `json:"minutesCharged"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SubmitParams contains parameters for submitting a render
type SubmitParams struct {
	AccountID       string
	Tier            entitlement.Tier
	ProjectID       string
	Quality         entitlement.Quality
	Preset          string
	AutoZoom        float64
	AdvancedEffects bool
	DurationSeconds float64
}

// SubmitResult is either a queued job or the decision that blocked it
type SubmitResult struct {
	Job      *Job                 `json:"job,omitempty"`
	Decision entitlement.Decision `json:"decision"`
}

// ModuleConfig contains dependencies for the render module
type ModuleConfig struct {
	Enforcer  *entitlement.Enforcer
	Queue     Enqueuer
	Snapshots *usage.SnapshotCache
	Metrics   Recorder
	Logger    *zap.Logger
}

// Module handles render submission
type Module struct {
	enforcer  *entitlement.Enforcer
	queue     Enqueuer
	snapshots *usage.SnapshotCache
	metrics   Recorder
	logger    *zap.Logger
}

// NewModule creates a new render module
func NewModule(cfg ModuleConfig) *Module {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		enforcer:  cfg.Enforcer,
		queue:     cfg.Queue,
		snapshots: cfg.Snapshots,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// MinutesFromDuration computes billable minutes from a duration in seconds;
// anything shorter than a minute costs one
func MinutesFromDuration(seconds float64) int64 {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 1
	}
	return int64(math.Ceil(seconds / 60))
}

// Submit clamps the requested settings to the account's entitlements, charges
// one render plus the billable minutes, and enqueues the export. A denied
// decision is returned with a nil job and nothing is enqueued.
func (m *Module) Submit(ctx context.Context, params SubmitParams) (*SubmitResult, error) {
	if strings.TrimSpace(params.AccountID) == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidRender)
	}
	if strings.TrimSpace(params.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidRender)
	}
	if math.IsInf(params.DurationSeconds, 0) || params.DurationSeconds < 0 {
		return nil, fmt.Errorf("%w: duration must be a finite non-negative number", ErrInvalidRender)
	}

	tier := entitlement.ParseTier(string(params.Tier))
	features := m.enforcer.Features(ctx, params.AccountID, tier)
	settings, adjusted := clampSettings(features, params)
	minutes := MinutesFromDuration(params.DurationSeconds)

	decision, records, err := m.enforcer.Consume(ctx, params.AccountID, tier, entitlement.Operation{
		Quality:         settings.Quality,
		Preset:          settings.Preset,
		AutoZoom:        settings.AutoZoom,
		AdvancedEffects: settings.AdvancedEffects,
		Renders:         1,
		Minutes:         float64(minutes),
	})
	if err != nil {
		if m.metrics != nil && errors.Is(err, usage.ErrStorageUnavailable) {
			m.metrics.RecordStorageError("reserve")
		}
		return nil, fmt.Errorf("failed to reserve render quota: %w", err)
	}
	m.recordReservation(tier, decision.Allowed, minutes)
	m.refreshSnapshots(records)
	if !decision.Allowed {
		m.logger.Info("Render blocked by entitlement",
			zap.String("account_id", params.AccountID),
			zap.String("tier", tier.String()),
			zap.String("reason", string(decision.Reason)),
			zap.String("required_tier", decision.RequiredTier.String()),
		)
		return &SubmitResult{Decision: decision}, nil
	}

	job := &Job{
		ID:             uuid.New().String(),
		AccountID:      params.AccountID,
		ProjectID:      params.ProjectID,
		Status:         StatusQueued,
		Queue:          QueueFor(features.Capabilities().QueuePriority),
		Settings:       settings,
		Adjusted:       adjusted,
		MinutesCharged: minutes,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = m.queue.EnqueueRenderExport(ctx, RenderExportPayload{
		JobID:           job.ID,
		AccountID:       job.AccountID,
		ProjectID:       job.ProjectID,
		Tier:            tier.String(),
		Quality:         settings.Quality.String(),
		Height:          settings.Height,
		Preset:          settings.Preset,
		AutoZoom:        settings.AutoZoom,
		AdvancedEffects: settings.AdvancedEffects,
		Watermark:       settings.Watermark,
		DurationSeconds: params.DurationSeconds,
	}, job.Queue)
	if m.metrics != nil {
		m.metrics.RecordRenderSubmission(job.Queue, err == nil)
	}
	if err != nil {
		// usage stays charged; the ledger only ever grows
		m.logger.Error("Render charged but not enqueued",
			zap.String("job_id", job.ID),
			zap.String("account_id", params.AccountID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to enqueue render: %w", err)
	}

	m.logger.Info("Render queued",
		zap.String("job_id", job.ID),
		zap.String("account_id", job.AccountID),
		zap.String("tier", tier.String()),
		zap.String("queue", job.Queue),
		zap.Strings("adjusted", adjusted),
	)

	return &SubmitResult{Job: job, Decision: decision}, nil
}

// clampSettings projects requested settings onto the resolved features and
// reports which fields were changed
func clampSettings(f entitlement.ResolvedFeatures, params SubmitParams) (Settings, []string) {
	var adjusted []string

	quality := f.ClampQuality(params.Quality)
	if params.Quality.Valid() && quality != params.Quality {
		adjusted = append(adjusted, "quality")
	}

	preset := f.ClampPreset(params.Preset)
	if params.Preset != "" && preset != params.Preset {
		adjusted = append(adjusted, "preset")
	}

	zoom := params.AutoZoom
	if zoom != 0 {
		zoom = f.ClampAutoZoom(zoom)
		if zoom != params.AutoZoom {
			adjusted = append(adjusted, "autoZoom")
		}
	} else {
		zoom = entitlement.MinAutoZoom
	}

	effects := params.AdvancedEffects && f.AdvancedEffects
	if params.AdvancedEffects && !effects {
		adjusted = append(adjusted, "advancedEffects")
	}

	return Settings{
		Quality:         quality,
		Height:          quality.Height(),
		Preset:          preset,
		AutoZoom:        zoom,
		AdvancedEffects: effects,
		Watermark:       f.Watermark,
	}, adjusted
}

func (m *Module) recordReservation(tier entitlement.Tier, applied bool, minutes int64) {
	if m.metrics != nil {
		m.metrics.RecordReservation(tier.String(), applied, 1, float64(minutes))
	}
}

func (m *Module) refreshSnapshots(records []usage.Record) {
	if m.snapshots == nil {
		return
	}
	for _, rec := range records {
		m.snapshots.Store(rec)
	}
}
