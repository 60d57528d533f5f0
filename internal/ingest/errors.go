package ingest

import "fmt"

// FatalInitError wraps a failure during Driver startup (e.g. the source
// could not be initialized) — §7 distinguishes init-time failures from
// steady-state data/peer errors so callers can choose exit codes.
type FatalInitError struct{ Err error }

func (e *FatalInitError) Error() string { return fmt.Sprintf("ingest: fatal init error: %v", e.Err) }
func (e *FatalInitError) Unwrap() error { return e.Err }

// FatalDataError wraps a failure the node must not silently continue past:
// a corrupt block, a chain-index gap, or a state-block validation failure
// (§4.7.3, §7).
type FatalDataError struct{ Err error }

func (e *FatalDataError) Error() string { return fmt.Sprintf("ingest: fatal data error: %v", e.Err) }
func (e *FatalDataError) Unwrap() error { return e.Err }

// PeerError wraps a failure talking to the block source (§4.4). A failed
// DoProcess poll is logged and retried by the driver and never becomes a
// PeerError; a Process or Confirm failure is returned as a PeerError and
// ends Run.
type PeerError struct{ Err error }

func (e *PeerError) Error() string { return fmt.Sprintf("ingest: peer error: %v", e.Err) }
func (e *PeerError) Unwrap() error { return e.Err }

// OracleError wraps a fatal contract-worker failure, such as a user-band
// oracle error (§4.8 step 3, §6.4). Script/server-band errors are recorded
// on the transaction by the worker and never reach the driver. The driver
// leaves Code at zero; the band, where there is one, is in the wrapped Err.
type OracleError struct {
	Code int
	Err  error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("ingest: oracle error (code %d): %v", e.Code, e.Err)
}
func (e *OracleError) Unwrap() error { return e.Err }
