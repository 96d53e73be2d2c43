// Package providertest provides an in-memory Provider for tests.
package providertest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/provider"
)

// Fake is a scripted in-memory provider. The zero value is unusable;
// create one with New.
type Fake struct {
	mu sync.Mutex

	// Instances keyed by remote id.
	Instances map[string]provider.RemoteInstance

	// Offers returned from SearchOffers.
	Offers []provider.Offer

	// ListErr makes ListInstances fail.
	ListErr error

	// GetErrs overrides GetInstance per id. An id absent from both
	// Instances and GetErrs yields an explicit not-found error.
	GetErrs map[string]error

	// Created records every create request.
	Created []provider.CreateRequest

	// AttachedKeys records attached public keys per instance id.
	AttachedKeys map[string][]string

	ListCalls int
	GetCalls  map[string]int

	nextID int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Instances:    make(map[string]provider.RemoteInstance),
		GetErrs:      make(map[string]error),
		AttachedKeys: make(map[string][]string),
		GetCalls:     make(map[string]int),
		nextID:       1000,
	}
}

var _ provider.Provider = (*Fake)(nil)

// Add registers an instance.
func (f *Fake) Add(inst provider.RemoteInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Instances[inst.ID] = inst
}

// Delete removes an instance so later lookups report not found.
func (f *Fake) Delete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Instances, id)
}

// ListInstances implements provider.Provider.
func (f *Fake) ListInstances(ctx context.Context) ([]provider.RemoteInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]provider.RemoteInstance, 0, len(f.Instances))
	for _, inst := range f.Instances {
		out = append(out, inst)
	}
	return out, nil
}

// GetInstance implements provider.Provider.
func (f *Fake) GetInstance(ctx context.Context, id string) (*provider.RemoteInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls[id]++
	if err, ok := f.GetErrs[id]; ok {
		return nil, err
	}
	inst, ok := f.Instances[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := inst
	return &cp, nil
}

// SearchOffers implements provider.Provider.
func (f *Fake) SearchOffers(ctx context.Context, q provider.OfferQuery) ([]provider.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Offer(nil), f.Offers...), nil
}

// Create implements provider.Provider. The new instance starts in
// "loading" state with the requested label.
func (f *Fake) Create(ctx context.Context, req provider.CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, req)
	f.nextID++
	id := "c" + strconv.Itoa(f.nextID)
	f.Instances[id] = provider.RemoteInstance{
		ID:     id,
		Label:  req.Label,
		Status: "loading",
	}
	return id, nil
}

// Start implements provider.Provider.
func (f *Fake) Start(ctx context.Context, id string) error {
	return f.setStatus(id, "running")
}

// Stop implements provider.Provider.
func (f *Fake) Stop(ctx context.Context, id string) error {
	return f.setStatus(id, "stopped")
}

// Destroy implements provider.Provider.
func (f *Fake) Destroy(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Instances[id]; !ok {
		return notFound(id)
	}
	delete(f.Instances, id)
	return nil
}

// AttachSSHKey implements provider.Provider.
func (f *Fake) AttachSSHKey(ctx context.Context, id, publicKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Instances[id]; !ok {
		return notFound(id)
	}
	f.AttachedKeys[id] = append(f.AttachedKeys[id], publicKey)
	return nil
}

// SetStatus changes an instance's reported status.
func (f *Fake) SetStatus(id, status string) {
	f.setStatus(id, status) //nolint:errcheck
}

// SetEndpoint changes an instance's reported SSH coordinates.
func (f *Fake) SetEndpoint(id, host string, port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.Instances[id]
	inst.Host, inst.Port = host, port
	f.Instances[id] = inst
}

func (f *Fake) setStatus(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.Instances[id]
	if !ok {
		return notFound(id)
	}
	inst.Status = status
	f.Instances[id] = inst
	return nil
}

func notFound(id string) error {
	return errors.New(errors.ErrNotFound,
		fmt.Sprintf("Provider reports no such resource (instance %s)", id),
		"The instance may have been destroyed on the provider's side.")
}
