package dea

import "errors"

var (
	ErrEventTypeRequired = errors.New("event type is required")
	ErrPatientRequired   = errors.New("patient id is required")
	ErrReportNotFound    = errors.New("dea report not found")
)
