package connectivity

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrServiceNotFound means Call found neither a route nor a local handler.
type ErrServiceNotFound struct{ Service string }

func (e *ErrServiceNotFound) Error() string {
	return "connectivity: no route or local handler for " + e.Service
}

// ErrFactoryFailed records a route whose transport could not be built
// during Reload. The route is skipped and the previous table keeps serving
// the other services.
type ErrFactoryFailed struct {
	Service  string
	Strategy string
	Endpoint string
	Cause    error
}

func (e *ErrFactoryFailed) Error() string {
	return fmt.Sprintf("connectivity: build %s route %s -> %s: %v", e.Strategy, e.Service, e.Endpoint, e.Cause)
}

func (e *ErrFactoryFailed) Unwrap() error { return e.Cause }

// ErrCircuitOpen is returned without calling the endpoint.
type ErrCircuitOpen struct{ Service string }

func (e *ErrCircuitOpen) Error() string {
	return "connectivity: circuit open for " + e.Service
}

// ErrRemoteStatus carries a non-2xx answer and the head of its body.
type ErrRemoteStatus struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *ErrRemoteStatus) Error() string {
	return fmt.Sprintf("connectivity: %s answered %d %s: %s", e.Endpoint, e.Status, http.StatusText(e.Status), e.Body)
}

// Retryable is true for 5xx, 408 and 429.
func (e *ErrRemoteStatus) Retryable() bool {
	switch {
	case e.Status >= 500, e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	}
	return false
}

// isPermanent reports errors another attempt cannot fix.
func isPermanent(err error) bool {
	var open *ErrCircuitOpen
	var status *ErrRemoteStatus
	switch {
	case errors.As(err, &open):
		return true
	case errors.As(err, &status):
		return !status.Retryable()
	}
	return false
}
