package compliance

import "errors"

var (
	ErrHoldNotFound          = errors.New("compliance hold not found")
	ErrHoldAlreadyCleared    = errors.New("compliance hold already cleared")
	ErrPatientRequired       = errors.New("patient_id is required")
	ErrReasonRequired        = errors.New("hold reason is required")
	ErrHoldTypeRequired      = errors.New("hold type is required")
	ErrJustificationTooShort = errors.New("override justification must be at least 20 characters")
)
