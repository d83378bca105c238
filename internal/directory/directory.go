// Package directory maintains the lazily populated cache of live agent
// instances. Instances are created on first delivery to their identity and
// live until the runtime is torn down; there is no mid-run eviction.
package directory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"

	"github.com/casualjim/aviary/api"
)

// entry guards construction so that concurrent first deliveries to the same
// identity observe exactly one factory invocation. ready publishes the agent
// field to readers that do not pass through once.Do.
type entry struct {
	once  sync.Once
	ready atomic.Bool
	agent api.Agent
	err   error
}

// Directory is the instance cache, keyed by the AgentID's string form.
type Directory struct {
	agents *haxmap.Map[string, *entry]
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		agents: haxmap.New[string, *entry](),
	}
}

// GetOrCreate returns the instance for id, invoking factory at most once to
// create it. The second result reports whether this call created the
// instance. A factory error is returned to every caller waiting on the same
// creation and nothing is cached, so a later delivery may attempt creation
// again.
func (d *Directory) GetOrCreate(id api.AgentID, factory api.Factory) (api.Agent, bool, error) {
	e, _ := d.agents.GetOrCompute(id.String(), func() *entry { return &entry{} })

	var created bool
	e.once.Do(func() {
		created = true
		defer func() {
			if r := recover(); r != nil {
				e.err = fmt.Errorf("factory for %s panicked: %v", id, r)
			}
			if e.err != nil {
				d.agents.Del(id.String())
				return
			}
			e.ready.Store(true)
		}()
		e.agent, e.err = factory(id)
	})

	if e.err != nil {
		return nil, false, e.err
	}
	return e.agent, created, nil
}

// Get returns the instance for id if one has been fully created. An identity
// whose construction is still in flight reports not found.
func (d *Directory) Get(id api.AgentID) (api.Agent, bool) {
	e, ok := d.agents.Get(id.String())
	if !ok || !e.ready.Load() {
		return nil, false
	}
	return e.agent, true
}

// Len returns the number of live instances.
func (d *Directory) Len() int {
	return int(d.agents.Len())
}
