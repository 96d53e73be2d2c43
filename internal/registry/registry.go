package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
)

// Registry enforces invariants over the instance store. It is safe to
// use from concurrent vastctl invocations: every transaction holds the
// advisory lock for the load-mutate-save cycle.
type Registry struct {
	home  string
	store *store
	log   logger.Logger

	lockTimeout time.Duration
	lockStale   time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithLockTimeouts overrides the lock wait and stale thresholds.
func WithLockTimeouts(timeout, stale time.Duration) Option {
	return func(r *Registry) {
		r.lockTimeout = timeout
		r.lockStale = stale
	}
}

// New creates a Registry over the state directory home.
func New(home string, opts ...Option) *Registry {
	r := &Registry{
		home:        home,
		store:       newStore(home),
		log:         logger.Default(),
		lockTimeout: DefaultLockTimeout,
		lockStale:   DefaultLockStale,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transact runs fn against the current state under the store lock and
// persists the result atomically. If fn returns an error, nothing is
// written. The reconciler uses this to merge a whole pass as one write.
func (r *Registry) Transact(fn func(*State) error) error {
	lock, err := acquireLock(r.home, r.lockTimeout, r.lockStale)
	if err != nil {
		return err
	}
	defer lock.release()

	state, err := r.store.load()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return r.store.save(state)
}

// view loads the state without taking the lock. Reads for display may
// be stale; mutations never go through here.
func (r *Registry) view() (*State, error) {
	return r.store.load()
}

// Create registers a new named instance in pending state. Fails with a
// duplicate-name error if the name already exists, unless the existing
// record is destroyed, in which case the name is recreated under a new
// generation.
func (r *Registry) Create(name string, desc Descriptor, project string, tags []string) (*InstanceRecord, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var created *InstanceRecord
	err := r.Transact(func(state *State) error {
		if existing, ok := state.Records[name]; ok && existing.Status != StatusDestroyed {
			return errors.New(errors.ErrDuplicateName,
				fmt.Sprintf("Instance '%s' already exists (%s)", name, existing.Status),
				"Pick a different name, or 'vastctl destroy "+name+"' first.")
		}

		gen := state.Generations[name] + 1
		state.Generations[name] = gen

		rec := &InstanceRecord{
			Name:       name,
			Status:     StatusPending,
			GPUType:    desc.GPUType,
			GPUCount:   desc.GPUCount,
			DiskGB:     desc.DiskGB,
			Image:      desc.Image,
			Project:    project,
			Tags:       append([]string(nil), tags...),
			Generation: gen,
			CreatedAt:  time.Now(),
		}
		if prev, ok := state.Records[name]; ok {
			rec.LastDestroyAt = prev.LastDestroyAt
		}
		state.Records[name] = rec
		created = rec.Clone()
		r.log.Debug("registered instance %s (generation %d)", name, gen)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns a copy of the record for name.
func (r *Registry) Get(name string) (*InstanceRecord, error) {
	state, err := r.view()
	if err != nil {
		return nil, err
	}
	rec, ok := state.Records[name]
	if !ok {
		return nil, notFound(name)
	}
	return rec.Clone(), nil
}

// List returns copies of all records, sorted by name.
func (r *Registry) List() ([]*InstanceRecord, error) {
	state, err := r.view()
	if err != nil {
		return nil, err
	}
	out := make([]*InstanceRecord, 0, len(state.Records))
	for _, rec := range state.Records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Patch holds the mutable fields of a record. Nil fields are untouched.
// Provisioning descriptors are not patchable.
type Patch struct {
	Project *string
	Tags    *[]string
}

// Update applies a patch to the mutable fields of a record.
func (r *Registry) Update(name string, patch Patch) (*InstanceRecord, error) {
	var updated *InstanceRecord
	err := r.Transact(func(state *State) error {
		rec, ok := state.Records[name]
		if !ok {
			return notFound(name)
		}
		if patch.Project != nil {
			rec.Project = *patch.Project
		}
		if patch.Tags != nil {
			rec.Tags = append([]string(nil), (*patch.Tags)...)
		}
		updated = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateRecord applies fn to the record under the store lock. Used by
// the reconciler and lifecycle commands to write status, endpoint, and
// remote binding fields.
func (r *Registry) UpdateRecord(name string, fn func(*InstanceRecord) error) (*InstanceRecord, error) {
	var updated *InstanceRecord
	err := r.Transact(func(state *State) error {
		rec, ok := state.Records[name]
		if !ok {
			return notFound(name)
		}
		if err := fn(rec); err != nil {
			return err
		}
		updated = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkDestroyed records an explicit provider deletion signal for name.
func (r *Registry) MarkDestroyed(name string) error {
	_, err := r.UpdateRecord(name, func(rec *InstanceRecord) error {
		rec.Status = StatusDestroyed
		rec.Endpoint = nil
		rec.MissCount = 0
		rec.LastDestroyAt = time.Now()
		return nil
	})
	return err
}

// Remove deletes the local record only. The remote instance, if any, is
// untouched. Clears the active pointer when it referenced name. The
// generation counter for the name is kept so a later recreate still
// gets a fresh generation.
func (r *Registry) Remove(name string) error {
	return r.Transact(func(state *State) error {
		if _, ok := state.Records[name]; !ok {
			return notFound(name)
		}
		delete(state.Records, name)
		if state.Active == name {
			state.Active = ""
		}
		r.log.Debug("removed local record for %s", name)
		return nil
	})
}

// Use sets the active pointer to name.
func (r *Registry) Use(name string) error {
	return r.Transact(func(state *State) error {
		if _, ok := state.Records[name]; !ok {
			return notFound(name)
		}
		state.Active = name
		return nil
	})
}

// Active returns the active instance name, or empty when unset.
func (r *Registry) Active() (string, error) {
	state, err := r.view()
	if err != nil {
		return "", err
	}
	return state.Active, nil
}

// Resolve returns name when given, otherwise the active pointer. Fails
// when neither names a registered instance.
func (r *Registry) Resolve(name string) (string, error) {
	state, err := r.view()
	if err != nil {
		return "", err
	}

	if name != "" {
		if _, ok := state.Records[name]; !ok {
			return "", notFound(name)
		}
		return name, nil
	}

	if state.Active == "" {
		return "", errors.New(errors.ErrNoActive,
			"No active instance",
			"Pass an instance name, or set one with 'vastctl use <name>'.")
	}
	if _, ok := state.Records[state.Active]; !ok {
		// Pointer referenced a record that was removed out from under
		// us; treat as unset.
		return "", errors.New(errors.ErrNoActive,
			"No active instance",
			"Pass an instance name, or set one with 'vastctl use <name>'.")
	}
	return state.Active, nil
}

func notFound(name string) error {
	return errors.New(errors.ErrNotFound,
		fmt.Sprintf("No instance named '%s'", name),
		"Run 'vastctl list' to see registered instances.")
}
