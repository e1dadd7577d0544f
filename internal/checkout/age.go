package checkout

import (
	"fmt"
	"strings"
	"time"

	dErrors "storefront/pkg/domain-errors"
)

// MinimumAge is the legal age for restricted products.
const MinimumAge = 18

// AgeOn returns the number of whole years between dob and now, by calendar
// date. The birthday itself counts as the new year of age.
func AgeOn(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

// ParseBirthDate reads a YYYY-MM-DD date. Empty, malformed and future dates
// are validation errors.
func ParseBirthDate(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "birth date is required")
	}
	dob, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "birth date must be a valid date in YYYY-MM-DD format")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if dob.After(today) {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "birth date must not be in the future")
	}
	return dob, nil
}

func underAgeError(age int) error {
	return dErrors.New(dErrors.CodeVerificationDenied,
		fmt.Sprintf("you must be %d years or older. You are currently %d years old.", MinimumAge, age))
}
