package connectivity

import "github.com/couchcryptid/resqnet-dispatch/internal/domain"

// Fixed is a connectivity source pinned to one state. One-shot commands use
// it after a single probe instead of running a Monitor.
type Fixed domain.ConnectivityState

// State returns the pinned state.
func (f Fixed) State() domain.ConnectivityState { return domain.ConnectivityState(f) }

// Events returns nil; a Fixed source never changes.
func (f Fixed) Events() <-chan Event { return nil }
