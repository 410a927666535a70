package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidFormat         = errors.New("invalid tracking number format")
	ErrUnknownUser           = errors.New("unknown user")
	ErrInsufficientSupply    = errors.New("insufficient supply")
	ErrNoAvailableTrackingID = errors.New("no available tracking id")
	ErrInsufficientAssigned  = errors.New("insufficient assigned")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrBatchTooLarge         = errors.New("batch too large")
	ErrLabelNotFound         = errors.New("label not found")
	ErrLabelNotSaved         = errors.New("label not saved")
	ErrRateLimited           = errors.New("rate limited")
)

type InsufficientSupplyError struct {
	Available int64
	Requested int64
}

func (e *InsufficientSupplyError) Error() string {
	return fmt.Sprintf("insufficient supply: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientSupplyError) Is(target error) bool {
	return target == ErrInsufficientSupply
}

type InsufficientAssignedError struct {
	Assigned  int64
	Requested int64
}

func (e *InsufficientAssignedError) Error() string {
	return fmt.Sprintf("insufficient assigned: assigned %d, requested %d", e.Assigned, e.Requested)
}

func (e *InsufficientAssignedError) Is(target error) bool {
	return target == ErrInsufficientAssigned
}

// StoreUnavailableError сохраняет исходную ошибку драйвера.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return "store unavailable: " + e.Err.Error()
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}
