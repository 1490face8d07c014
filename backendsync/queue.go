package backendsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/staffexpense_sync/config"
	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
)

// Offline queue: writes made while disconnected wait in the local store and
// are replayed to the backend, in enqueue order, before any pull. Draining
// first guarantees a queued local delete or edit reaches the backend before
// the reconciliation pass could resurrect the old copy.

// Enqueue records one offline write. The payload must carry the record's
// stable id.
func Enqueue(ctx context.Context, db *gorm.DB, operationKind, entityKind string, payload interface{}) error {
	if _, ok := kindPath(entityKind); !ok {
		return fmt.Errorf("unknown entity kind %q", entityKind)
	}
	switch operationKind {
	case models.OperationUpsert, models.OperationDelete:
	default:
		return fmt.Errorf("unknown operation kind %q", operationKind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	op := models.PendingOperation{
		OperationKind: operationKind,
		EntityKind:    entityKind,
		PayloadJSON:   body,
	}
	if err := db.WithContext(ctx).Create(&op).Error; err != nil {
		return err
	}
	return models.BumpPendingChanges(ctx, db, 1)
}

// drainQueue replays pending operations oldest-first. It stops at the first
// hard failure so ordering is preserved for the next attempt; everything
// already sent is removed from the queue.
func (e *Engine) drainQueue(ctx context.Context) error {
	var ops []models.PendingOperation
	if err := e.db.WithContext(ctx).Order("enqueued_at, id").Find(&ops).Error; err != nil {
		return err
	}

	for _, op := range ops {
		if err := e.sendPendingOperation(ctx, op); err != nil {
			return fmt.Errorf("draining %s %s: %w", op.OperationKind, op.EntityKind, err)
		}
		if err := e.db.WithContext(ctx).Delete(&models.PendingOperation{}, op.ID).Error; err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sendPendingOperation(ctx context.Context, op models.PendingOperation) error {
	path, ok := kindPath(op.EntityKind)
	if !ok {
		// A kind this build no longer knows; drop rather than wedge the queue.
		config.LogWarn(e.log, "backendsync", "sendPendingOperation", op.EntityKind, "dropping queued operation of unknown kind")
		return nil
	}

	var envelope struct {
		ID         string `json:"id"`
		EmployeeID string `json:"employeeId"`
	}
	if err := json.Unmarshal(op.PayloadJSON, &envelope); err != nil || strings.TrimSpace(envelope.ID) == "" {
		config.LogWarn(e.log, "backendsync", "sendPendingOperation", op.EntityKind, "dropping queued operation without record id")
		return nil
	}

	target := path + "/" + url.PathEscape(envelope.ID)
	switch op.OperationKind {
	case models.OperationDelete:
		err := e.client.deleteJSON(ctx, target)
		if IsNotFound(err) {
			// Already gone on the backend; the delete is effectively applied.
			return nil
		}
		return err
	default:
		payload, err := e.translateQueuedPayload(ctx, op.PayloadJSON, envelope.EmployeeID)
		if err != nil {
			return err
		}
		return e.client.putJSON(ctx, target, payload)
	}
}

// translateQueuedPayload rewrites the queued record's employee reference to
// the backend namespace, leaving every other field as enqueued.
func (e *Engine) translateQueuedPayload(ctx context.Context, raw []byte, localEmployeeId string) (json.RawMessage, error) {
	if strings.TrimSpace(localEmployeeId) == "" {
		return json.RawMessage(raw), nil
	}
	backendId := e.resolveBackendEmployeeId(ctx, localEmployeeId)
	if backendId == localEmployeeId {
		return json.RawMessage(raw), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(backendId)
	if err != nil {
		return nil, err
	}
	fields["employeeId"] = encoded
	return json.Marshal(fields)
}
