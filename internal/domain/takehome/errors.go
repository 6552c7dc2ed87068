package takehome

import "errors"

var (
	// ErrInvalidBottleCount is returned when a kit is requested with zero or
	// negative bottles.
	ErrInvalidBottleCount = errors.New("bottle count must be at least 1")

	// ErrStartDateRequired is returned when issuance is missing a start date.
	ErrStartDateRequired = errors.New("start date is required")

	// ErrMedicationRequired is returned when issuance is missing a medication name.
	ErrMedicationRequired = errors.New("medication name is required")

	// ErrDoseRequired is returned when issuance is missing a dose amount.
	ErrDoseRequired = errors.New("dose amount is required")

	// ErrPatientRequired is returned when issuance is missing a patient.
	ErrPatientRequired = errors.New("patient_id is required")

	// ErrDispenserRequired is returned when issuance is missing the
	// dispensing staff member.
	ErrDispenserRequired = errors.New("dispensed_by_id is required")

	// ErrInvalidToken is returned when a scanned QR token cannot be decoded.
	ErrInvalidToken = errors.New("invalid QR token")

	// ErrBottleNotFound is returned when no bottle matches the scanned token.
	ErrBottleNotFound = errors.New("bottle not found")

	// ErrOutsideWindow is returned when a consumption scan falls outside the
	// bottle's dosing window.
	ErrOutsideWindow = errors.New("scan outside dosing window")

	// ErrAlreadyFinalized is returned when the bottle has already been
	// consumed or marked missed.
	ErrAlreadyFinalized = errors.New("bottle already finalized")

	// ErrWindowStillOpen is returned when the missed-dose sweep runs before
	// the daily cutoff hour.
	ErrWindowStillOpen = errors.New("dosing window still open")
)
