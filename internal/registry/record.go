// Package registry owns the durable mapping from instance names to their
// known state, plus the active-instance pointer. All mutations go through
// the Registry, which serializes concurrent invocations with an advisory
// lock on the store.
package registry

import (
	"fmt"
	"regexp"
	"time"

	"github.com/vastlab/vastctl/internal/errors"
)

// Status is the lifecycle state of an instance record.
type Status string

const (
	// StatusPending means the record exists locally but the remote side
	// has not been confirmed yet.
	StatusPending Status = "pending"
	// StatusRunning means the provider reports the instance running.
	StatusRunning Status = "running"
	// StatusStopped means the provider reports the instance stopped.
	StatusStopped Status = "stopped"
	// StatusUnreachable means the bound remote id stopped appearing in
	// provider listings without an explicit deletion signal.
	StatusUnreachable Status = "unreachable"
	// StatusDestroyed means the provider explicitly reported the instance
	// deleted.
	StatusDestroyed Status = "destroyed"
)

// Endpoint is the SSH coordinates of a running instance.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Descriptor holds the provisioning parameters fixed at creation time.
type Descriptor struct {
	GPUType  string `json:"gpu_type"`
	GPUCount int    `json:"gpu_count"`
	DiskGB   int    `json:"disk_gb"`
	Image    string `json:"image"`
}

// InstanceRecord is the local representation of one named instance.
type InstanceRecord struct {
	Name     string    `json:"name"`
	RemoteID string    `json:"remote_id,omitempty"`
	Status   Status    `json:"status"`
	Endpoint *Endpoint `json:"endpoint,omitempty"`

	// Provisioning descriptors, immutable after create.
	GPUType  string `json:"gpu_type"`
	GPUCount int    `json:"gpu_count"`
	DiskGB   int    `json:"disk_gb"`
	Image    string `json:"image"`

	// User-assigned grouping, mutable via update.
	Project string   `json:"project,omitempty"`
	Tags    []string `json:"tags,omitempty"`

	// Generation distinguishes successive remote instances reusing this
	// name. Bumped every time the name is recreated.
	Generation int `json:"generation"`

	// MissCount tracks consecutive reconciliations where the bound
	// remote id was absent from the provider listing.
	MissCount int `json:"miss_count,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	LastSyncedAt  time.Time `json:"last_synced_at,omitempty"`
	LastDestroyAt time.Time `json:"last_destroy_at,omitempty"`
}

// Clone returns a deep copy. Callers outside the registry get copies so
// store contents are never mutated without going through a transaction.
func (r *InstanceRecord) Clone() *InstanceRecord {
	cp := *r
	if r.Endpoint != nil {
		ep := *r.Endpoint
		cp.Endpoint = &ep
	}
	if r.Tags != nil {
		cp.Tags = append([]string(nil), r.Tags...)
	}
	return &cp
}

// UsableEndpoint returns the SSH endpoint when it is safe to use: the
// instance is running, coordinates are known, and the record has been
// synced since the last known destroy event for this name.
func (r *InstanceRecord) UsableEndpoint() (Endpoint, bool) {
	if r.Status != StatusRunning || r.Endpoint == nil {
		return Endpoint{}, false
	}
	if !r.LastDestroyAt.IsZero() && !r.LastSyncedAt.After(r.LastDestroyAt) {
		return Endpoint{}, false
	}
	return *r.Endpoint, true
}

// SyncedWithin reports whether the record was reconciled within d.
func (r *InstanceRecord) SyncedWithin(d time.Duration) bool {
	if r.LastSyncedAt.IsZero() {
		return false
	}
	return time.Since(r.LastSyncedAt) <= d
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateName checks that a name is usable as a registry key and as a
// provider label.
func ValidateName(name string) error {
	if name == "" {
		return errors.New(errors.ErrNotFound,
			"Instance name is empty",
			"Pass an instance name, or set one with 'vastctl use <name>'.")
	}
	if len(name) > 64 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Instance name '%s' is too long", name),
			"Keep names under 64 characters.")
	}
	if !nameRe.MatchString(name) {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Invalid instance name '%s'", name),
			"Use letters, digits, dashes, and underscores, starting with a letter or digit.")
	}
	return nil
}
