// Package provider wraps the remote rental marketplace API behind a
// narrow interface. All provider error shapes are translated into the
// local error taxonomy at this boundary; callers never see raw HTTP
// status codes except through IsNotFound.
package provider

import (
	"context"

	"github.com/vastlab/vastctl/internal/errors"
)

// RemoteInstance is a provider-side instance as reported by listings.
type RemoteInstance struct {
	ID     string
	Label  string
	Status string

	// SSH coordinates: proxy host/port when available, otherwise the
	// direct public address.
	Host string
	Port int

	GPUName      string
	NumGPUs      int
	PricePerHour float64
}

// Running reports whether the provider considers the instance running.
func (r *RemoteInstance) Running() bool { return r.Status == "running" }

// Offer is a rentable machine matching a search query.
type Offer struct {
	ID           string
	GPUName      string
	NumGPUs      int
	CPUCores     int
	CPURamMB     int
	DiskGB       float64
	InetDownMbps float64
	PricePerHour float64
	Verified     bool
}

// OfferQuery filters the offer search. A query with an empty GPUType
// searches CPU-only offers using MinCPUs/MinRamGB.
type OfferQuery struct {
	GPUType      string
	NumGPUs      int
	DiskGB       int
	MaxPrice     float64
	MinBandwidth float64

	MinCPUs  int
	MinRamGB int
}

// CreateRequest accepts an offer and provisions an instance on it.
type CreateRequest struct {
	OfferID string
	Image   string
	DiskGB  int
	OnStart string
	Label   string
}

// Provider is the remote API collaborator. Implementations translate
// transport failures into ErrProvider errors and deletion signals into
// not-found errors recognizable via IsNotFound.
type Provider interface {
	// ListInstances returns all instances owned by the account.
	ListInstances(ctx context.Context) ([]RemoteInstance, error)

	// GetInstance fetches one instance by id. Returns a not-found error
	// when the provider explicitly reports the instance deleted.
	GetInstance(ctx context.Context, id string) (*RemoteInstance, error)

	// SearchOffers returns rentable offers matching the query, cheapest
	// first.
	SearchOffers(ctx context.Context, q OfferQuery) ([]Offer, error)

	// Create accepts an offer and returns the new instance id.
	Create(ctx context.Context, req CreateRequest) (string, error)

	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error

	// AttachSSHKey registers a public key with an instance.
	AttachSSHKey(ctx context.Context, id, publicKey string) error
}

// IsNotFound reports whether err is the provider's explicit "instance
// deleted" signal. Absence from a listing is not the same thing.
func IsNotFound(err error) bool {
	return errors.IsCode(err, errors.ErrNotFound)
}
