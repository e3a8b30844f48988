package ridesync

import (
	"fmt"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
)

// FetchError reports a refresh aborted because one partition request failed.
type FetchError struct {
	Status models.Status
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s rides: %v", e.Status, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ActionError reports a cancel request the backend did not accept.
type ActionError struct {
	RideID int64
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("cancel ride %d: %v", e.RideID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
