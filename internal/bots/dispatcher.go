package bots

import "github.com/antoniostano/botfleet/internal/store"

// Dispatcher resolves session ids to live runtimes across all platform
// managers, so the shared webhook route does not need to know which
// platform a session belongs to.
type Dispatcher struct {
	managers []*Manager
}

func NewDispatcher(managers ...*Manager) *Dispatcher {
	return &Dispatcher{managers: managers}
}

// Lookup finds the runtime for a session id, whichever manager holds it.
func (d *Dispatcher) Lookup(sessionID int64) (*Runtime, bool) {
	for _, m := range d.managers {
		if rt, ok := m.Get(sessionID); ok {
			return rt, true
		}
	}
	return nil, false
}

// Manager returns the manager for a platform.
func (d *Dispatcher) Manager(platform store.Platform) (*Manager, bool) {
	for _, m := range d.managers {
		if m.Platform() == platform {
			return m, true
		}
	}
	return nil, false
}

// Managers returns all registered managers.
func (d *Dispatcher) Managers() []*Manager {
	return d.managers
}
