package backendsync

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"bitbucket.org/mmdatafocus/staffexpense_sync/config"
	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
	"bitbucket.org/mmdatafocus/staffexpense_sync/utils"
)

// Pull path: backend records come down through tolerant wire types (lists
// that may arrive as embedded text, flags that may arrive as 0/1, dates that
// may arrive date-only) and get their employeeId rewritten from the backend
// namespace to the local one before they touch the store.

// fetchList reads one collection, optionally filtered by the backend-side
// employee id.
func (e *Engine) fetchList(ctx context.Context, path, backendEmployeeId string) ([]json.RawMessage, error) {
	params := url.Values{}
	if backendEmployeeId != "" {
		params.Set("employeeId", backendEmployeeId)
	}
	var envelope listEnvelope
	if err := e.client.getJSON(ctx, path, params, &envelope); err != nil {
		return nil, err
	}
	return envelope.records(), nil
}

func (e *Engine) fetchEmployees(ctx context.Context) ([]models.Employee, error) {
	raws, err := e.fetchList(ctx, apiPathEmployees, "")
	if err != nil {
		return nil, err
	}
	out := make([]models.Employee, 0, len(raws))
	for _, raw := range raws {
		var wire employeeWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			config.LogWarn(e.log, "backendsync", "fetchEmployees", "", "skipping undecodable employee: "+err.Error())
			continue
		}
		out = append(out, models.Employee{
			ID:         wire.ID,
			Name:       wire.Name,
			Email:      strings.TrimSpace(wire.Email),
			Role:       wire.Role,
			CostCenter: wire.CostCenter,
		})
	}
	return out, nil
}

func (e *Engine) fetchMileageEntries(ctx context.Context, localEmployeeId string) ([]models.MileageEntry, error) {
	raws, err := e.fetchList(ctx, apiPathMileageEntries, e.resolveBackendEmployeeId(ctx, localEmployeeId))
	if err != nil {
		return nil, err
	}
	out := make([]models.MileageEntry, 0, len(raws))
	for _, raw := range raws {
		var wire mileageEntryWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			config.LogWarn(e.log, "backendsync", "fetchMileageEntries", localEmployeeId, "skipping undecodable mileage entry: "+err.Error())
			continue
		}
		entryDate, err := utils.ParseDateSafe(wire.EntryDate)
		if err != nil {
			config.LogWarn(e.log, "backendsync", "fetchMileageEntries", wire.ID, "skipping entry with unparseable date: "+err.Error())
			continue
		}
		out = append(out, models.MileageEntry{
			ID:            wire.ID,
			EmployeeID:    e.resolveLocalEmployeeId(ctx, wire.EmployeeID),
			EntryDate:     entryDate,
			OdometerStart: decimalFromNumber(wire.OdometerStart),
			OdometerEnd:   decimalFromNumber(wire.OdometerEnd),
			StartLocation: wire.StartLocation,
			EndLocation:   wire.EndLocation,
			StartDetail:   wire.StartDetail,
			EndDetail:     wire.EndDetail,
			Stops:         models.StringList(wire.Stops),
			Miles:         decimalFromNumber(wire.Miles),
			Cost:          decimalFromNumber(wire.Cost),
			Purpose:       wire.Purpose,
			CostCenter:    wire.CostCenter,
		})
	}
	return out, nil
}

func (e *Engine) fetchReceipts(ctx context.Context, localEmployeeId string) ([]models.Receipt, error) {
	raws, err := e.fetchList(ctx, apiPathReceipts, e.resolveBackendEmployeeId(ctx, localEmployeeId))
	if err != nil {
		return nil, err
	}
	out := make([]models.Receipt, 0, len(raws))
	for _, raw := range raws {
		var wire receiptWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			config.LogWarn(e.log, "backendsync", "fetchReceipts", localEmployeeId, "skipping undecodable receipt: "+err.Error())
			continue
		}
		receiptDate, err := utils.ParseDateSafe(wire.ReceiptDate)
		if err != nil {
			config.LogWarn(e.log, "backendsync", "fetchReceipts", wire.ID, "skipping receipt with unparseable date: "+err.Error())
			continue
		}
		out = append(out, models.Receipt{
			ID:           wire.ID,
			EmployeeID:   e.resolveLocalEmployeeId(ctx, wire.EmployeeID),
			ReceiptDate:  receiptDate,
			Vendor:       wire.Vendor,
			Amount:       decimalFromNumber(wire.Amount),
			Category:     wire.Category,
			ImageURI:     wire.ImageURI,
			Tags:         models.StringList(wire.Tags),
			Reimbursable: wire.Reimbursable.Ptr(),
		})
	}
	return out, nil
}

func (e *Engine) fetchTimeEntries(ctx context.Context, localEmployeeId string) ([]models.TimeTrackingEntry, error) {
	raws, err := e.fetchList(ctx, apiPathTimeEntries, e.resolveBackendEmployeeId(ctx, localEmployeeId))
	if err != nil {
		return nil, err
	}
	out := make([]models.TimeTrackingEntry, 0, len(raws))
	for _, raw := range raws {
		var wire timeEntryWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			config.LogWarn(e.log, "backendsync", "fetchTimeEntries", localEmployeeId, "skipping undecodable time entry: "+err.Error())
			continue
		}
		entryDate, err := utils.ParseDateSafe(wire.EntryDate)
		if err != nil {
			config.LogWarn(e.log, "backendsync", "fetchTimeEntries", wire.ID, "skipping entry with unparseable date: "+err.Error())
			continue
		}
		out = append(out, models.TimeTrackingEntry{
			ID:         wire.ID,
			EmployeeID: e.resolveLocalEmployeeId(ctx, wire.EmployeeID),
			EntryDate:  entryDate,
			Hours:      decimalFromNumber(wire.Hours),
			Project:    wire.Project,
			Billable:   wire.Billable.Ptr(),
			Notes:      wire.Notes,
		})
	}
	return out, nil
}

func (e *Engine) fetchDailyDescriptions(ctx context.Context, localEmployeeId string) ([]models.DailyDescription, error) {
	raws, err := e.fetchList(ctx, apiPathDailyDescriptions, e.resolveBackendEmployeeId(ctx, localEmployeeId))
	if err != nil {
		return nil, err
	}
	out := make([]models.DailyDescription, 0, len(raws))
	for _, raw := range raws {
		var wire dailyDescriptionWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			config.LogWarn(e.log, "backendsync", "fetchDailyDescriptions", localEmployeeId, "skipping undecodable daily description: "+err.Error())
			continue
		}
		entryDate, err := utils.ParseDateSafe(wire.EntryDate)
		if err != nil {
			config.LogWarn(e.log, "backendsync", "fetchDailyDescriptions", wire.ID, "skipping description with unparseable date: "+err.Error())
			continue
		}
		out = append(out, models.DailyDescription{
			ID:          wire.ID,
			EmployeeID:  e.resolveLocalEmployeeId(ctx, wire.EmployeeID),
			EntryDate:   entryDate,
			Description: wire.Description,
		})
	}
	return out, nil
}
