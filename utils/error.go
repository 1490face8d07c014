package utils

import "errors"

// ErrorRecordNotFound is the store-agnostic miss the models layer returns in
// place of the gorm sentinel.
var ErrorRecordNotFound = errors.New("record not found")
