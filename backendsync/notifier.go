package backendsync

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Notifier receives the missing-receipt-image signal. The mobile shell
// plugs in its own implementation to schedule a user-facing notification.
type Notifier interface {
	MissingReceiptImage(employeeId, receiptId, vendor string, amount decimal.Decimal, date time.Time)
}

// logNotifier is the default: the event is logged and nothing else happens.
type logNotifier struct {
	log *logrus.Logger
}

func (n logNotifier) MissingReceiptImage(employeeId, receiptId, vendor string, amount decimal.Decimal, date time.Time) {
	n.log.WithFields(logrus.Fields{
		"employee_id": employeeId,
		"receipt_id":  receiptId,
		"vendor":      vendor,
		"amount":      amount.String(),
		"date":        date.Format("2006-01-02"),
	}).Warn("receipt image missing on device")
}
