package backendsync

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"bitbucket.org/mmdatafocus/staffexpense_sync/config"
	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
	"bitbucket.org/mmdatafocus/staffexpense_sync/utils"
)

// Push path: local records go to the backend as upserts keyed by the stable
// record id. Items are processed strictly sequentially and a failed item
// never aborts the loop; the batch reports one outcome per input item, in
// input order.

// pushOne validates and upserts a single record, appending its outcome to the
// batch result.
func (e *Engine) pushOne(ctx context.Context, path, id string, payload interface{}, result *SyncResult) {
	if err := validate.Struct(payload); err != nil {
		result.recordFailure(id, &APIError{Kind: KindValidation, Message: formatValidationError(err)})
		return
	}

	if err := e.client.putJSON(ctx, path+"/"+url.PathEscape(id), payload); err != nil {
		config.LogError(e.log, "backendsync", "pushOne", path, id, err)
		result.recordFailure(id, err)
		return
	}
	result.recordSuccess(id)
}

func formatValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for field := range utils.ProcessValidationErrors(verrs) {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "record is missing required fields: " + strings.Join(fields, ", ")
}

// pushEmployee upserts the profile under the backend-canonical id. Pushing
// the device-minted id would fork an email-correlated employee into a
// duplicate backend record.
func (e *Engine) pushEmployee(ctx context.Context, emp models.Employee) SyncResult {
	var result SyncResult
	backendId := e.resolveBackendEmployeeId(ctx, emp.ID)
	payload := employeeWire{
		ID:         backendId,
		Name:       emp.Name,
		Email:      strings.TrimSpace(emp.Email),
		Role:       emp.Role,
		CostCenter: emp.CostCenter,
	}
	e.pushOne(ctx, apiPathEmployees, backendId, payload, &result)
	result.finalize(e.now())
	return result
}

func (e *Engine) pushMileageEntries(ctx context.Context, entries []models.MileageEntry) SyncResult {
	var result SyncResult
	for _, entry := range entries {
		payload := mileageEntryWire{
			ID:            entry.ID,
			EmployeeID:    e.resolveBackendEmployeeId(ctx, entry.EmployeeID),
			EntryDate:     utils.SerializeDateOnly(entry.EntryDate),
			OdometerStart: numberFromDecimal(entry.OdometerStart),
			OdometerEnd:   numberFromDecimal(entry.OdometerEnd),
			StartLocation: entry.StartLocation,
			EndLocation:   entry.EndLocation,
			StartDetail:   entry.StartDetail,
			EndDetail:     entry.EndDetail,
			Stops:         FlexStringList(entry.Stops),
			Miles:         numberFromDecimal(entry.Miles),
			Cost:          numberFromDecimal(entry.Cost),
			Purpose:       entry.Purpose,
			CostCenter:    entry.CostCenter,
		}
		e.pushOne(ctx, apiPathMileageEntries, entry.ID, payload, &result)
		e.pause(e.cfg.ItemPause)
	}
	result.finalize(e.now())
	return result
}

func (e *Engine) pushReceipts(ctx context.Context, receipts []models.Receipt) SyncResult {
	var result SyncResult
	for i := range receipts {
		receipt := &receipts[i]
		e.syncReceiptImage(ctx, receipt)

		payload := receiptWire{
			ID:           receipt.ID,
			EmployeeID:   e.resolveBackendEmployeeId(ctx, receipt.EmployeeID),
			ReceiptDate:  utils.SerializeDateOnly(receipt.ReceiptDate),
			Vendor:       receipt.Vendor,
			Amount:       numberFromDecimal(receipt.Amount),
			Category:     receipt.Category,
			ImageURI:     receipt.ImageURI,
			Tags:         FlexStringList(receipt.Tags),
			Reimbursable: boolValue(receipt.Reimbursable),
		}
		e.pushOne(ctx, apiPathReceipts, receipt.ID, payload, &result)
		e.pause(e.cfg.ImagePause)
	}
	result.finalize(e.now())
	return result
}

func (e *Engine) pushTimeEntries(ctx context.Context, entries []models.TimeTrackingEntry) SyncResult {
	var result SyncResult
	for _, entry := range entries {
		payload := timeEntryWire{
			ID:         entry.ID,
			EmployeeID: e.resolveBackendEmployeeId(ctx, entry.EmployeeID),
			EntryDate:  utils.SerializeDateOnly(entry.EntryDate),
			Hours:      numberFromDecimal(entry.Hours),
			Project:    entry.Project,
			Billable:   boolValue(entry.Billable),
			Notes:      entry.Notes,
		}
		e.pushOne(ctx, apiPathTimeEntries, entry.ID, payload, &result)
	}
	result.finalize(e.now())
	return result
}

func (e *Engine) pushDailyDescriptions(ctx context.Context, descriptions []models.DailyDescription) SyncResult {
	var result SyncResult
	for _, desc := range descriptions {
		payload := dailyDescriptionWire{
			ID:          desc.ID,
			EmployeeID:  e.resolveBackendEmployeeId(ctx, desc.EmployeeID),
			EntryDate:   utils.SerializeDateOnly(desc.EntryDate),
			Description: desc.Description,
		}
		e.pushOne(ctx, apiPathDailyDescriptions, desc.ID, payload, &result)
	}
	result.finalize(e.now())
	return result
}

// syncReceiptImage uploads a still-local receipt image before the record
// upsert. Every failure leaves the stored ImageURI untouched so the next
// sync pass retries; the reference is never dropped.
func (e *Engine) syncReceiptImage(ctx context.Context, receipt *models.Receipt) {
	uri := strings.TrimSpace(receipt.ImageURI)
	if uri == "" || isCanonicalURI(uri) {
		return
	}

	outcome := e.uploadReceiptImage(ctx, uri)
	switch {
	case outcome.Success:
		receipt.ImageURI = outcome.CanonicalURI
		if err := e.db.WithContext(ctx).Model(&models.Receipt{}).
			Where("id = ?", receipt.ID).
			Update("image_uri", outcome.CanonicalURI).Error; err != nil {
			config.LogError(e.log, "backendsync", "syncReceiptImage", receipt.ID, nil, err)
		}
	case IsFileNotFound(outcome.Err):
		e.maybeNotifyMissingImage(ctx, receipt)
	case IsTimeout(outcome.Err):
		// Large photos on slow links routinely outlive the upload window;
		// not an error, the next pass picks it up.
		e.log.WithField("receipt_id", receipt.ID).Info("receipt image upload timed out, will retry on next sync")
	default:
		config.LogError(e.log, "backendsync", "syncReceiptImage", receipt.ID, uri, outcome.Err)
	}
}

// maybeNotifyMissingImage raises the missing-image notification, but only for
// receipts dated in the current calendar month (historical gaps are noise)
// and only when the record still exists; it may have been deleted while the
// batch was in flight.
func (e *Engine) maybeNotifyMissingImage(ctx context.Context, receipt *models.Receipt) {
	if !utils.SameCalendarMonth(receipt.ReceiptDate, e.now()) {
		return
	}
	var count int64
	if err := e.db.WithContext(ctx).Model(&models.Receipt{}).Where("id = ?", receipt.ID).Count(&count).Error; err != nil || count == 0 {
		return
	}
	e.notifier.MissingReceiptImage(receipt.EmployeeID, receipt.ID, receipt.Vendor, receipt.Amount, receipt.ReceiptDate)
}

// isCanonicalURI reports whether the reference already points at backend
// storage. A bare absolute device path (/var/mobile/.../img.jpg) is a local
// file the upload pipeline can read, not a canonical reference.
func isCanonicalURI(uri string) bool {
	return strings.HasPrefix(uri, uploadsPathPrefix) || strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

func boolValue(b *bool) FlexBool {
	if b == nil {
		return false
	}
	return FlexBool(*b)
}
