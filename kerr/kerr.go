// Package kerr defines the small vocabulary of error kinds the page
// manager can return to a caller, per the disposition table in the core's
// error handling design: invariant violations panic, but a few conditions
// (fault on an address with no supplemental entry, in particular) are
// handed back as an ordinary value so the caller can decide what to do.
package kerr

// Err is a negative error-kind code, in the style of the teacher kernel's
// Err_t: zero means success, negative values name a kind.
type Err int

const (
	// ENOTFOUND means handle_fault found no supplemental entry at the
	// faulting address. The caller (stack growth heuristic, user pointer
	// validation, or process termination) decides what happens next.
	ENOTFOUND Err = -1

	// EFAULT means the access violates the entry's permissions (e.g. a
	// write to a read-only page).
	EFAULT Err = -2

	// ENOMEM means frame or supplemental-entry bookkeeping allocation
	// failed. The core has no recoverable path for this; it is reserved
	// for callers that wrap bookkeeping allocation themselves.
	ENOMEM Err = -3
)

// String renders the error kind for logging.
func (e Err) String() string {
	switch e {
	case 0:
		return "ok"
	case ENOTFOUND:
		return "not found"
	case EFAULT:
		return "fault"
	case ENOMEM:
		return "no memory"
	default:
		return "unknown error"
	}
}

// Error implements the error interface so Err can be returned as a plain
// Go error where convenient (e.g. from page.Table.HandleFault).
func (e Err) Error() string {
	return e.String()
}

// OK reports whether e represents success.
func (e Err) OK() bool {
	return e == 0
}
