package telephony

import (
	"errors"
	"fmt"
)

// Failure taxonomy for the provider layer.
//
// Rules:
// - Failures that block user intent (cannot dial, cannot switch) are typed
//   and surfaced.
// - Failures after the user intent was already honored locally (e.g. a
//   hangup request that 500s once the UI call is over) are logged and
//   absorbed by the caller.
// - Calling an unsupported capability is never an error; those operations
//   report "not applied" instead (see TelephonyProvider).

var (
	// ErrNotInitialized is returned by call operations before InitializeDevice.
	ErrNotInitialized = errors.New("telephony: provider not initialized")
	// ErrUnknownProvider is returned by the registry for an unrecognized name.
	ErrUnknownProvider = errors.New("telephony: unknown provider")
)

// DeviceInitError reports a failed device registration or credential fetch.
// Fatal to that provider instance; the orchestrator survives it.
type DeviceInitError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *DeviceInitError) Error() string {
	return fmt.Sprintf("telephony: %s device init failed: %s", e.Provider, e.Reason)
}

func (e *DeviceInitError) Unwrap() error { return e.Err }

// CallInitError reports a dial that failed before any session existed.
type CallInitError struct {
	Provider string
	Number   string
	Err      error
}

func (e *CallInitError) Error() string {
	return fmt.Sprintf("telephony: %s call to %s failed to start", e.Provider, e.Number)
}

func (e *CallInitError) Unwrap() error { return e.Err }

// ProviderRequestError reports a backend HTTP failure. The raw status and
// body are preserved for diagnostics; callers must not parse Body.
type ProviderRequestError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *ProviderRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telephony: request %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("telephony: request %s failed: status=%d body=%q", e.Endpoint, e.Status, e.Body)
}

func (e *ProviderRequestError) Unwrap() error { return e.Err }

// InvalidNumberError fails fast before any network call is attempted.
type InvalidNumberError struct {
	Number string
	Reason string
}

func (e *InvalidNumberError) Error() string {
	return fmt.Sprintf("telephony: invalid number %q: %s", e.Number, e.Reason)
}

// SwitchRejectedError reports a provider switch attempted during a live
// call session. The active provider instance is left untouched.
type SwitchRejectedError struct {
	Current   string
	Requested string
}

func (e *SwitchRejectedError) Error() string {
	return fmt.Sprintf("telephony: cannot switch from %s to %s during an active call", e.Current, e.Requested)
}
