package backendsync

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/staffexpense_sync/utils"
)

// ItemResult is the outcome for one record within a batch, reported in input
// order.
type ItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SyncResult aggregates one push or pull invocation. Constructed fresh per
// invocation and never persisted; the durable side effect lives in
// models.SyncState.
type SyncResult struct {
	Success   bool         `json:"success"`
	Items     []ItemResult `json:"items"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

func (r *SyncResult) recordSuccess(id string) {
	r.Items = append(r.Items, ItemResult{ID: id, Success: true})
}

func (r *SyncResult) recordFailure(id string, err error) {
	r.Items = append(r.Items, ItemResult{ID: id, Success: false, Error: err.Error()})
}

// finalize sets the aggregate flags: success means every item succeeded, and
// the batch error is the de-duplicated semicolon-joined item errors.
func (r *SyncResult) finalize(at time.Time) {
	r.Timestamp = at
	r.Success = true
	var messages []string
	for _, item := range r.Items {
		if item.Success {
			continue
		}
		r.Success = false
		if item.Error != "" {
			messages = append(messages, item.Error)
		}
	}
	if !r.Success {
		if len(messages) > 0 {
			r.Error = strings.Join(utils.UniqueSlice(messages), "; ")
		} else {
			r.Error = "one or more records failed to sync"
		}
	}
}

func (r *SyncResult) merge(other SyncResult) {
	r.Items = append(r.Items, other.Items...)
}

func failedResult(err error) *SyncResult {
	return &SyncResult{
		Success:   false,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
}

// FlexBool tolerates the backend's three spellings of a flag: JSON booleans,
// 0/1 integers and their quoted forms.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

func (b FlexBool) Ptr() *bool {
	v := bool(b)
	return &v
}

// FlexStringList tolerates list fields that arrive either as a JSON array or
// as a string with the array embedded in it (older backend revisions stored
// the serialized form verbatim). A plain delimited string decodes too.
type FlexStringList []string

func (l *FlexStringList) UnmarshalJSON(data []byte) error {
	var direct []string
	if err := json.Unmarshal(data, &direct); err == nil {
		*l = direct
		return nil
	}

	var embedded string
	if err := json.Unmarshal(data, &embedded); err != nil {
		// Unknown shape; treat as empty rather than failing the record.
		*l = nil
		return nil
	}
	embedded = strings.TrimSpace(embedded)
	if embedded == "" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(embedded, "[") {
		var nested []string
		if err := json.Unmarshal([]byte(embedded), &nested); err == nil {
			*l = nested
			return nil
		}
	}
	parts := strings.Split(embedded, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*l = out
	return nil
}

// Wire DTOs. Dates travel as midday-UTC timestamps (date-only semantics);
// amounts as JSON numbers, decoded through decimalFromNumber.

type employeeWire struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	CostCenter string `json:"costCenter"`
}

type mileageEntryWire struct {
	ID            string         `json:"id" validate:"required"`
	EmployeeID    string         `json:"employeeId" validate:"required"`
	EntryDate     string         `json:"entryDate" validate:"required"`
	OdometerStart json.Number    `json:"odometerStart"`
	OdometerEnd   json.Number    `json:"odometerEnd"`
	StartLocation string         `json:"startLocation"`
	EndLocation   string         `json:"endLocation"`
	StartDetail   string         `json:"startDetail"`
	EndDetail     string         `json:"endDetail"`
	Stops         FlexStringList `json:"stops"`
	Miles         json.Number    `json:"miles"`
	Cost          json.Number    `json:"cost"`
	Purpose       string         `json:"purpose"`
	CostCenter    string         `json:"costCenter"`
}

type receiptWire struct {
	ID           string         `json:"id" validate:"required"`
	EmployeeID   string         `json:"employeeId" validate:"required"`
	ReceiptDate  string         `json:"receiptDate" validate:"required"`
	Vendor       string         `json:"vendor"`
	Amount       json.Number    `json:"amount"`
	Category     string         `json:"category"`
	ImageURI     string         `json:"imageUri"`
	Tags         FlexStringList `json:"tags"`
	Reimbursable FlexBool       `json:"reimbursable"`
}

type timeEntryWire struct {
	ID         string      `json:"id" validate:"required"`
	EmployeeID string      `json:"employeeId" validate:"required"`
	EntryDate  string      `json:"entryDate" validate:"required"`
	Hours      json.Number `json:"hours"`
	Project    string      `json:"project"`
	Billable   FlexBool    `json:"billable"`
	Notes      string      `json:"notes"`
}

type dailyDescriptionWire struct {
	ID          string `json:"id" validate:"required"`
	EmployeeID  string `json:"employeeId" validate:"required"`
	EntryDate   string `json:"entryDate" validate:"required"`
	Description string `json:"description"`
}

type listEnvelope struct {
	Data  []json.RawMessage `json:"data"`
	Items []json.RawMessage `json:"items"`
}

func (e listEnvelope) records() []json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Items
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

func numberFromDecimal(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
