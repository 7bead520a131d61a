package app

import (
	"errors"
	"fmt"

	"vaultdrive/api/internal/blob"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapBlobError keeps an unconfigured content store from surfacing as a 500.
func mapBlobError(err error) error {
	if errors.Is(err, blob.ErrNotReady) {
		return domainError(503, "STORE_UNAVAILABLE", "File storage is not available", nil)
	}
	return err
}
