package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/staffexpense_sync/utils"
)

// Entity kind names, shared by the sync workers, the offline queue and the
// run audit rows.
const (
	KindEmployee         = "employee"
	KindMileageEntry     = "mileage_entry"
	KindReceipt          = "receipt"
	KindTimeEntry        = "time_entry"
	KindDailyDescription = "daily_description"
)

// StringList is a []string stored as a JSON column. sqlite has no array type
// and the backend sends these fields as JSON arrays.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported StringList source %T", value)
	}
}

type Employee struct {
	ID         string    `gorm:"primary_key;size:64" json:"id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Email      string    `gorm:"index;size:255" json:"email"`
	Role       string    `gorm:"size:50" json:"role"`
	CostCenter string    `gorm:"size:100" json:"cost_center"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type MileageEntry struct {
	ID            string          `gorm:"primary_key;size:64" json:"id"`
	EmployeeID    string          `gorm:"index;size:64;not null" json:"employee_id"`
	EntryDate     time.Time       `gorm:"index;not null" json:"entry_date"`
	OdometerStart decimal.Decimal `gorm:"type:decimal(12,1)" json:"odometer_start"`
	OdometerEnd   decimal.Decimal `gorm:"type:decimal(12,1)" json:"odometer_end"`
	StartLocation string          `gorm:"size:255" json:"start_location"`
	EndLocation   string          `gorm:"size:255" json:"end_location"`
	StartDetail   string          `gorm:"type:text" json:"start_detail"`
	EndDetail     string          `gorm:"type:text" json:"end_detail"`
	Stops         StringList      `gorm:"type:json" json:"stops"`
	Miles         decimal.Decimal `gorm:"type:decimal(10,2)" json:"miles"`
	Cost          decimal.Decimal `gorm:"type:decimal(12,2)" json:"cost"`
	Purpose       string          `gorm:"size:255" json:"purpose"`
	CostCenter    string          `gorm:"size:100" json:"cost_center"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type Receipt struct {
	ID           string          `gorm:"primary_key;size:64" json:"id"`
	EmployeeID   string          `gorm:"index;size:64;not null" json:"employee_id"`
	ReceiptDate  time.Time       `gorm:"index;not null" json:"receipt_date"`
	Vendor       string          `gorm:"size:255" json:"vendor"`
	Amount       decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	Category     string          `gorm:"size:100" json:"category"`
	ImageURI     string          `gorm:"type:text" json:"image_uri"`
	Tags         StringList      `gorm:"type:json" json:"tags"`
	Reimbursable *bool           `gorm:"default:true" json:"reimbursable"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type TimeTrackingEntry struct {
	ID         string          `gorm:"primary_key;size:64" json:"id"`
	EmployeeID string          `gorm:"index;size:64;not null" json:"employee_id"`
	EntryDate  time.Time       `gorm:"index;not null" json:"entry_date"`
	Hours      decimal.Decimal `gorm:"type:decimal(5,2)" json:"hours"`
	Project    string          `gorm:"size:255" json:"project"`
	Billable   *bool           `gorm:"default:false" json:"billable"`
	Notes      string          `gorm:"type:text" json:"notes"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type DailyDescription struct {
	ID          string    `gorm:"primary_key;size:64" json:"id"`
	EmployeeID  string    `gorm:"index;size:64;not null" json:"employee_id"`
	EntryDate   time.Time `gorm:"index;not null" json:"entry_date"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewLocalId mints the opaque id a record keeps for life. Backend-assigned
// ids arriving on pull are preserved verbatim instead.
func NewLocalId() string {
	return uuid.NewString()
}

func (e Employee) RecordID() string          { return e.ID }
func (m MileageEntry) RecordID() string      { return m.ID }
func (r Receipt) RecordID() string           { return r.ID }
func (t TimeTrackingEntry) RecordID() string { return t.ID }
func (d DailyDescription) RecordID() string  { return d.ID }

func GetEmployeeById(ctx context.Context, db *gorm.DB, id string) (*Employee, error) {
	var emp Employee
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&emp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &emp, nil
}

// FindEmployeeByEmail returns nil without error when no row matches.
func FindEmployeeByEmail(ctx context.Context, db *gorm.DB, email string) (*Employee, error) {
	var emp Employee
	err := db.WithContext(ctx).Where("email = ? COLLATE NOCASE", email).Take(&emp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &emp, nil
}

func ListMileageEntriesForEmployee(ctx context.Context, db *gorm.DB, employeeId string) ([]MileageEntry, error) {
	var entries []MileageEntry
	err := db.WithContext(ctx).Where("employee_id = ?", employeeId).Order("entry_date, id").Find(&entries).Error
	return entries, err
}

func ListReceiptsForEmployee(ctx context.Context, db *gorm.DB, employeeId string) ([]Receipt, error) {
	var receipts []Receipt
	err := db.WithContext(ctx).Where("employee_id = ?", employeeId).Order("receipt_date, id").Find(&receipts).Error
	return receipts, err
}

func ListTimeEntriesForEmployee(ctx context.Context, db *gorm.DB, employeeId string) ([]TimeTrackingEntry, error) {
	var entries []TimeTrackingEntry
	err := db.WithContext(ctx).Where("employee_id = ?", employeeId).Order("entry_date, id").Find(&entries).Error
	return entries, err
}

func ListDailyDescriptionsForEmployee(ctx context.Context, db *gorm.DB, employeeId string) ([]DailyDescription, error) {
	var descriptions []DailyDescription
	err := db.WithContext(ctx).Where("employee_id = ?", employeeId).Order("entry_date, id").Find(&descriptions).Error
	return descriptions, err
}

func QueryReceiptsByEmployeeAndRange(ctx context.Context, db *gorm.DB, employeeId string, month time.Month, year int) ([]Receipt, error) {
	start, end := utils.MonthRange(month, year)
	var receipts []Receipt
	err := db.WithContext(ctx).
		Where("employee_id = ? AND receipt_date >= ? AND receipt_date < ?", employeeId, start, end).
		Order("receipt_date, id").
		Find(&receipts).Error
	return receipts, err
}

func QueryMileageByEmployeeAndRange(ctx context.Context, db *gorm.DB, employeeId string, month time.Month, year int) ([]MileageEntry, error) {
	start, end := utils.MonthRange(month, year)
	var entries []MileageEntry
	err := db.WithContext(ctx).
		Where("employee_id = ? AND entry_date >= ? AND entry_date < ?", employeeId, start, end).
		Order("entry_date, id").
		Find(&entries).Error
	return entries, err
}

func QueryTimeEntriesByEmployeeAndRange(ctx context.Context, db *gorm.DB, employeeId string, month time.Month, year int) ([]TimeTrackingEntry, error) {
	start, end := utils.MonthRange(month, year)
	var entries []TimeTrackingEntry
	err := db.WithContext(ctx).
		Where("employee_id = ? AND entry_date >= ? AND entry_date < ?", employeeId, start, end).
		Order("entry_date, id").
		Find(&entries).Error
	return entries, err
}
