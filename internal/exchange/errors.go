package exchange

import "fmt"

// Exchange error codes the resilience classifier and the SL-fallback safety
// logic steer on (spec §6).
const (
	CodeInsufficientFunds = 50061
	CodePositionMissing   = 50062
	CodeTriggerRequired   = 30101
	CodeAuth              = 20001
)

// APIError wraps an exchange-reported error code so callers can switch on it
// without parsing message strings, mirroring the teacher's orderResp.Code
// convention in rest.go but promoted to a typed error.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// IsOrderNotFound reports whether err indicates the order already vanished
// (filled or cancelled elsewhere) — such cancellations are treated as
// successes by AtomicEntryManager and StopManager cleanup paths.
func IsOrderNotFound(err error) bool {
	var apiErr *APIError
	if ok := asAPIError(err, &apiErr); ok {
		return apiErr.Code == CodePositionMissing
	}
	return false
}

func asAPIError(err error, target **APIError) bool {
	for err != nil {
		if ae, ok := err.(*APIError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
