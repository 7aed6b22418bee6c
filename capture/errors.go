package capture

import (
	"errors"
	"fmt"
)

// ErrNoPage is returned when the browser cannot open the target page.
var ErrNoPage = errors.New("capture: target page unavailable")

// CaptureTimeoutError reports a capture that ended with one kind missing
// while the other was captured. Downstream stages proceed with the partial
// data.
type CaptureTimeoutError struct {
	Missing Kind
	Reason  Reason
}

func (e *CaptureTimeoutError) Error() string {
	return fmt.Sprintf("capture: %s segments missing at completion (%s)", e.Missing, e.Reason)
}
