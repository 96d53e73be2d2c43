// Package reconcile merges the provider's authoritative view of
// instances into the local registry. It never fabricates state: status
// and endpoint only change based on what the provider actually
// reported, and destruction is only inferred from an explicit deletion
// signal, never from mere absence in a listing.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
	"github.com/vastlab/vastctl/internal/provider"
	"github.com/vastlab/vastctl/internal/registry"
)

// missThreshold is how many consecutive reconciliations a bound remote
// id may be missing before the record goes unreachable. One miss is
// enough because a miss already survived a direct per-id probe.
const missThreshold = 1

// defaultProbeParallelism bounds concurrent per-id probes.
const defaultProbeParallelism = 4

// Collision reports more than one remote instance carrying the same
// label, with no locally bound id to break the tie.
type Collision struct {
	Name      string
	RemoteIDs []string
}

// Result summarizes one reconciliation pass.
type Result struct {
	// Synced lists records merged against fresh provider state.
	Synced []string
	// Bound lists pending records that acquired a remote id this pass.
	Bound []string
	// Unreachable lists records whose remote id could not be resolved.
	Unreachable []string
	// Destroyed lists records the provider explicitly reported deleted.
	Destroyed []string
	// Collisions lists unresolvable label ties, reported not repaired.
	Collisions []Collision
}

// Reconciler pulls provider truth and merges it into the registry.
type Reconciler struct {
	reg  *registry.Registry
	prov provider.Provider
	log  logger.Logger

	probeParallelism int
	now              func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

// WithProbeParallelism bounds concurrent per-id provider lookups.
func WithProbeParallelism(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.probeParallelism = n
		}
	}
}

// New creates a Reconciler.
func New(reg *registry.Registry, prov provider.Provider, opts ...Option) *Reconciler {
	r := &Reconciler{
		reg:              reg,
		prov:             prov,
		log:              logger.Default(),
		probeParallelism: defaultProbeParallelism,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// All reconciles every registered record.
func (r *Reconciler) All(ctx context.Context) (*Result, error) {
	return r.Names(ctx, nil)
}

// One reconciles a single record and returns its fresh state. A label
// collision involving the record is surfaced as an error here, since
// the caller asked about that specific name.
func (r *Reconciler) One(ctx context.Context, name string) (*registry.InstanceRecord, error) {
	res, err := r.Names(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	for _, col := range res.Collisions {
		if col.Name == name {
			return nil, errors.New(errors.ErrLabelCollision,
				fmt.Sprintf("Multiple remote instances carry the label '%s' (%v)", name, col.RemoteIDs),
				"Destroy or relabel the extra instances on the provider console, then retry.")
		}
	}
	return r.reg.Get(name)
}

// EnsureFresh returns the record for name, reconciling it first when
// its last sync is older than maxAge.
func (r *Reconciler) EnsureFresh(ctx context.Context, name string, maxAge time.Duration) (*registry.InstanceRecord, error) {
	rec, err := r.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if rec.SyncedWithin(maxAge) {
		return rec, nil
	}
	return r.One(ctx, name)
}

// probeOutcome is the result of a per-id lookup for a record whose
// bound remote id was absent from the listing.
type probeOutcome struct {
	inst     *provider.RemoteInstance
	notFound bool
}

// Names reconciles the given records, or all records when names is nil.
// The provider listing and any per-id probes happen up front (probes in
// bounded parallel); the merge itself is a single sequential registry
// transaction, so concurrent invocations never interleave writes.
func (r *Reconciler) Names(ctx context.Context, names []string) (*Result, error) {
	targets, err := r.targets(names)
	if err != nil {
		return nil, err
	}

	remote, err := r.prov.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]provider.RemoteInstance, len(remote))
	byLabel := make(map[string][]provider.RemoteInstance)
	for _, inst := range remote {
		byID[inst.ID] = inst
		if inst.Label != "" {
			byLabel[inst.Label] = append(byLabel[inst.Label], inst)
		}
	}

	// Bound ids absent from the listing get a direct probe: an explicit
	// 404 means destroyed, a successful fetch means the listing was
	// stale, anything else counts as a miss.
	var toProbe []string
	for _, rec := range targets {
		if rec.Status == registry.StatusDestroyed || rec.RemoteID == "" {
			continue
		}
		if _, ok := byID[rec.RemoteID]; !ok {
			toProbe = append(toProbe, rec.RemoteID)
		}
	}
	probes := r.probe(ctx, toProbe)

	result := &Result{}
	now := r.now()

	err = r.reg.Transact(func(state *registry.State) error {
		for _, target := range targets {
			rec, ok := state.Records[target.Name]
			if !ok || rec.Status == registry.StatusDestroyed {
				continue
			}

			switch {
			case rec.RemoteID != "":
				if inst, ok := byID[rec.RemoteID]; ok {
					merge(rec, inst, now)
					result.Synced = append(result.Synced, rec.Name)
					continue
				}
				outcome, probed := probes[rec.RemoteID]
				switch {
				case probed && outcome.notFound:
					rec.Status = registry.StatusDestroyed
					rec.Endpoint = nil
					rec.MissCount = 0
					rec.LastDestroyAt = now
					rec.LastSyncedAt = now
					result.Destroyed = append(result.Destroyed, rec.Name)
					r.log.Info("instance %s destroyed on provider side", rec.Name)
				case probed && outcome.inst != nil:
					merge(rec, *outcome.inst, now)
					result.Synced = append(result.Synced, rec.Name)
				default:
					if rec.MissCount < missThreshold {
						rec.MissCount++
					}
					if rec.MissCount >= missThreshold {
						rec.Status = registry.StatusUnreachable
						result.Unreachable = append(result.Unreachable, rec.Name)
						r.log.Warn("instance %s (remote %s) unresolvable on provider", rec.Name, rec.RemoteID)
					}
				}

			case rec.Status == registry.StatusPending:
				matches := byLabel[rec.Name]
				switch len(matches) {
				case 0:
					// Creation may still be propagating.
				case 1:
					rec.RemoteID = matches[0].ID
					merge(rec, matches[0], now)
					result.Bound = append(result.Bound, rec.Name)
					result.Synced = append(result.Synced, rec.Name)
					r.log.Debug("bound %s to remote instance %s", rec.Name, rec.RemoteID)
				default:
					ids := make([]string, len(matches))
					for i, m := range matches {
						ids[i] = m.ID
					}
					result.Collisions = append(result.Collisions, Collision{Name: rec.Name, RemoteIDs: ids})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// targets resolves which records this pass covers.
func (r *Reconciler) targets(names []string) ([]*registry.InstanceRecord, error) {
	if names == nil {
		return r.reg.List()
	}
	out := make([]*registry.InstanceRecord, 0, len(names))
	for _, name := range names {
		rec, err := r.reg.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// probe fetches the given remote ids with bounded parallelism.
func (r *Reconciler) probe(ctx context.Context, ids []string) map[string]probeOutcome {
	outcomes := make(map[string]probeOutcome, len(ids))
	if len(ids) == 0 {
		return outcomes
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, r.probeParallelism)

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			inst, err := r.prov.GetInstance(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				outcomes[id] = probeOutcome{inst: inst}
			case provider.IsNotFound(err):
				outcomes[id] = probeOutcome{notFound: true}
			default:
				r.log.Debug("probe for remote %s failed: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
	return outcomes
}

// merge overwrites the fields the reconciler is authoritative for.
func merge(rec *registry.InstanceRecord, inst provider.RemoteInstance, now time.Time) {
	rec.Status = mapStatus(inst.Status)
	if inst.Host != "" && inst.Port > 0 {
		rec.Endpoint = &registry.Endpoint{Host: inst.Host, Port: inst.Port}
	} else {
		rec.Endpoint = nil
	}
	rec.MissCount = 0
	rec.LastSyncedAt = now
}

// mapStatus translates provider status strings into the local enum.
func mapStatus(s string) registry.Status {
	switch s {
	case "running":
		return registry.StatusRunning
	case "stopped", "exited":
		return registry.StatusStopped
	default:
		// loading, created, scheduling and friends
		return registry.StatusPending
	}
}
