package backendsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/staffexpense_sync/config"
	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
	"bitbucket.org/mmdatafocus/staffexpense_sync/utils"
)

// Engine owns one sync session's state: the HTTP client, the identity
// caches and the pacing knobs. Workers receive everything through the
// Engine instead of package globals so the whole thing tests in isolation.
//
// Within one invocation, entity kinds and items run strictly sequentially;
// the pacing between them is the point. Independent per-employee syncs may
// run as sibling Engines.
type Engine struct {
	db        *gorm.DB
	client    *apiClient
	cfg       Config
	log       *logrus.Logger
	notifier  Notifier
	toBackend map[string]string
	toLocal   map[string]string
	now       func() time.Time
}

func NewEngine(db *gorm.DB, cfg Config, log *logrus.Logger, notifier Notifier) (*Engine, error) {
	if log == nil {
		log = config.GetLogger()
	}
	client, err := newAPIClient(cfg, log)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		db:        db,
		client:    client,
		cfg:       cfg,
		log:       log,
		notifier:  notifier,
		toBackend: make(map[string]string),
		toLocal:   make(map[string]string),
		now:       time.Now,
	}
	if e.notifier == nil {
		e.notifier = logNotifier{log: log}
	}
	return e, nil
}

// UpdateConfig swaps the backend endpoint settings at runtime. Identity
// caches survive; they key on record identity, not endpoint.
func (e *Engine) UpdateConfig(cfg Config) error {
	client, err := newAPIClient(cfg, e.log)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.client = client
	return nil
}

func (e *Engine) pause(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// SyncToBackend pushes everything the employee owns, kind by kind. The
// batch keeps going past failed items; lastSyncTime advances only when every
// item made it.
func (e *Engine) SyncToBackend(ctx context.Context, employeeId string) (result *SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			config.LogError(e.log, "backendsync", "SyncToBackend", employeeId, nil, fmt.Errorf("panic: %v", r))
			result = failedResult(fmt.Errorf("sync aborted: %v", r))
		}
	}()

	if err := e.checkSession(); err != nil {
		return failedResult(err)
	}

	run := e.startRun(ctx, employeeId, models.SyncDirectionPush)
	combined := &SyncResult{}

	emp, err := models.GetEmployeeById(ctx, e.db, employeeId)
	if err != nil {
		combined.recordFailure(employeeId, fmt.Errorf("employee not in local store: %w", err))
		combined.finalize(e.now())
		e.finishRun(ctx, run, combined, 0)
		return combined
	}

	// Warm the identity mapping once so every payload below reuses it.
	e.resolveBackendEmployeeId(ctx, employeeId)

	res := e.pushEmployee(ctx, *emp)
	e.recordRunErrors(ctx, run, models.KindEmployee, res)
	combined.merge(res)
	e.pause(e.cfg.KindPause)

	if entries, err := models.ListMileageEntriesForEmployee(ctx, e.db, employeeId); err != nil {
		combined.recordFailure(models.KindMileageEntry, fmt.Errorf("listing mileage entries: %w", err))
	} else {
		res = e.pushMileageEntries(ctx, entries)
		e.recordRunErrors(ctx, run, models.KindMileageEntry, res)
		combined.merge(res)
	}
	e.pause(e.cfg.KindPause)

	if receipts, err := models.ListReceiptsForEmployee(ctx, e.db, employeeId); err != nil {
		combined.recordFailure(models.KindReceipt, fmt.Errorf("listing receipts: %w", err))
	} else {
		res = e.pushReceipts(ctx, receipts)
		e.recordRunErrors(ctx, run, models.KindReceipt, res)
		combined.merge(res)
	}
	// Image-bearing kind: give the backend longer to breathe.
	e.pause(e.cfg.ImagePause)

	if entries, err := models.ListTimeEntriesForEmployee(ctx, e.db, employeeId); err != nil {
		combined.recordFailure(models.KindTimeEntry, fmt.Errorf("listing time entries: %w", err))
	} else {
		res = e.pushTimeEntries(ctx, entries)
		e.recordRunErrors(ctx, run, models.KindTimeEntry, res)
		combined.merge(res)
	}
	e.pause(e.cfg.KindPause)

	if descriptions, err := models.ListDailyDescriptionsForEmployee(ctx, e.db, employeeId); err != nil {
		combined.recordFailure(models.KindDailyDescription, fmt.Errorf("listing daily descriptions: %w", err))
	} else {
		res = e.pushDailyDescriptions(ctx, descriptions)
		e.recordRunErrors(ctx, run, models.KindDailyDescription, res)
		combined.merge(res)
	}

	combined.finalize(e.now())

	synced := 0
	for _, item := range combined.Items {
		if item.Success {
			synced++
		}
	}
	if combined.Success {
		if err := models.MarkSyncComplete(ctx, e.db, e.now()); err != nil {
			config.LogError(e.log, "backendsync", "SyncToBackend", employeeId, nil, err)
		}
	}
	e.finishRun(ctx, run, combined, synced)
	return combined
}

// SyncFromBackend drains the offline queue, then reconciles backend state
// into the local store kind by kind. Daily descriptions are a soft
// dependency: their failure is reported, never escalated.
func (e *Engine) SyncFromBackend(ctx context.Context, employeeId string) (result *SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			config.LogError(e.log, "backendsync", "SyncFromBackend", employeeId, nil, fmt.Errorf("panic: %v", r))
			result = failedResult(fmt.Errorf("sync aborted: %v", r))
		}
	}()

	if err := e.checkSession(); err != nil {
		return failedResult(err)
	}

	run := e.startRun(ctx, employeeId, models.SyncDirectionPull)
	combined := &SyncResult{}
	applied := 0

	// Queued local deletes and edits must reach the backend before the
	// reconciliation below can overwrite their local copies.
	drained := true
	if err := e.drainQueue(ctx); err != nil {
		drained = false
		config.LogError(e.log, "backendsync", "SyncFromBackend", "drain queue", employeeId, err)
	}

	if employees, err := e.fetchEmployees(ctx); err != nil {
		combined.recordFailure(models.KindEmployee, err)
		e.recordRunError(ctx, run, models.KindEmployee, "", err)
	} else {
		applied += applyBatch(ctx, e, run, models.KindEmployee, employees, combined)
	}
	e.pause(e.cfg.KindPause)

	if entries, err := e.fetchMileageEntries(ctx, employeeId); err != nil {
		combined.recordFailure(models.KindMileageEntry, err)
		e.recordRunError(ctx, run, models.KindMileageEntry, "", err)
	} else {
		applied += applyBatch(ctx, e, run, models.KindMileageEntry, entries, combined)
	}
	e.pause(e.cfg.KindPause)

	if receipts, err := e.fetchReceipts(ctx, employeeId); err != nil {
		combined.recordFailure(models.KindReceipt, err)
		e.recordRunError(ctx, run, models.KindReceipt, "", err)
	} else {
		applied += applyBatch(ctx, e, run, models.KindReceipt, receipts, combined)
	}
	e.pause(e.cfg.ImagePause)

	if entries, err := e.fetchTimeEntries(ctx, employeeId); err != nil {
		combined.recordFailure(models.KindTimeEntry, err)
		e.recordRunError(ctx, run, models.KindTimeEntry, "", err)
	} else {
		applied += applyBatch(ctx, e, run, models.KindTimeEntry, entries, combined)
	}
	e.pause(e.cfg.KindPause)

	// Soft sub-step: a broken daily-description feed must not fail the pull.
	if descriptions, err := e.fetchDailyDescriptions(ctx, employeeId); err != nil {
		config.LogWarn(e.log, "backendsync", "SyncFromBackend", employeeId,
			"daily descriptions unavailable, continuing without them: "+err.Error())
		e.recordRunError(ctx, run, models.KindDailyDescription, "", err)
	} else {
		applied += applyBatch(ctx, e, run, models.KindDailyDescription, descriptions, combined)
	}

	combined.finalize(e.now())

	// A pull leaves the local store reconciled no matter which records
	// misbehaved, so the watermark always advances. The pending counter only
	// resets when the offline queue emptied too; undrained operations are
	// still pending changes.
	if err := models.TouchLastSync(ctx, e.db, e.now()); err != nil {
		config.LogError(e.log, "backendsync", "SyncFromBackend", employeeId, nil, err)
	}
	if combined.Success && drained {
		if err := models.MarkSyncComplete(ctx, e.db, e.now()); err != nil {
			config.LogError(e.log, "backendsync", "SyncFromBackend", employeeId, nil, err)
		}
	}
	e.finishRun(ctx, run, combined, applied)
	return combined
}

func applyBatch[T idCarrier](ctx context.Context, e *Engine, run *models.SyncRun, kind string, records []T, combined *SyncResult) int {
	applied, items := applyPulled(ctx, e, kind, records)
	for _, item := range items {
		combined.Items = append(combined.Items, item)
		if !item.Success {
			e.recordRunError(ctx, run, kind, item.ID, errors.New(item.Error))
		}
	}
	return applied
}

func (e *Engine) checkSession() error {
	if e.cfg.Token == "" {
		return nil
	}
	return utils.CheckSessionToken(e.cfg.Token)
}

func (e *Engine) startRun(ctx context.Context, employeeId, direction string) *models.SyncRun {
	now := e.now()
	run := &models.SyncRun{
		RunID:      models.NewLocalId(),
		EmployeeID: employeeId,
		Direction:  direction,
		Status:     models.SyncRunStatusRunning,
		StartedAt:  &now,
	}
	if err := e.db.WithContext(ctx).Create(run).Error; err != nil {
		config.LogError(e.log, "backendsync", "startRun", direction, employeeId, err)
		return nil
	}
	return run
}

func (e *Engine) finishRun(ctx context.Context, run *models.SyncRun, result *SyncResult, synced int) {
	if run == nil {
		return
	}
	failures := 0
	for _, item := range result.Items {
		if !item.Success {
			failures++
		}
	}
	status := models.SyncRunStatusSuccess
	if failures > 0 && synced == 0 {
		status = models.SyncRunStatusFailed
	} else if failures > 0 {
		status = models.SyncRunStatusPartial
	}

	finished := e.now()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = finished.Sub(*run.StartedAt).Milliseconds()
	}
	if err := e.db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":         status,
		"records_synced": synced,
		"error_count":    failures,
		"finished_at":    finished,
		"duration_ms":    durationMs,
	}).Error; err != nil {
		config.LogError(e.log, "backendsync", "finishRun", run.RunID, nil, err)
	}
}

func (e *Engine) recordRunErrors(ctx context.Context, run *models.SyncRun, kind string, result SyncResult) {
	for _, item := range result.Items {
		if item.Success {
			continue
		}
		e.recordRunError(ctx, run, kind, item.ID, fmt.Errorf("%s", item.Error))
	}
}

func (e *Engine) recordRunError(ctx context.Context, run *models.SyncRun, kind, recordId string, err error) {
	if run == nil {
		return
	}
	retryable := true
	errorCode := ""
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		retryable = apiErr.Retryable()
		errorCode = string(apiErr.Kind)
	}
	row := models.SyncRunError{
		SyncRunID:  run.ID,
		EntityKind: kind,
		RecordID:   recordId,
		ErrorCode:  errorCode,
		Message:    err.Error(),
		Retryable:  retryable,
	}
	if dbErr := e.db.WithContext(ctx).Create(&row).Error; dbErr != nil {
		config.LogError(e.log, "backendsync", "recordRunError", kind, recordId, dbErr)
	}
}
