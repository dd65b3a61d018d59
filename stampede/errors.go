package stampede

import "errors"

// ErrStampedeTimeout is returned by Protect when a follower waits longer
// than Config.WaiterTimeout, when the leader's loader runs past
// Config.LoaderTimeout, or when this process could not acquire the
// distributed lock before Config.LockWaitTimeout elapsed and
// Config.FallbackToLocalLoad is false. When FallbackToLocalLoad is true
// (the default), Protect instead runs the loader locally without the
// distributed lock once the wait times out -- see Config's doc comment for
// the "weak coalescing, strong local guarantee" rationale.
var ErrStampedeTimeout = errors.New("stampede: timed out waiting for distributed lock")
