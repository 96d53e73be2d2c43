package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://console.vast.ai/api/v0"

	defaultRateInterval = 1200 * time.Millisecond
	maxRateLimitRetries = 5
)

// VastClient talks to the vast.ai REST API.
type VastClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     logger.Logger

	// Minimum spacing between requests. The API rate-limits bursts.
	rateInterval time.Duration
	retryWait    time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// VastOption configures a VastClient.
type VastOption func(*VastClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) VastOption {
	return func(v *VastClient) { v.http = c }
}

// WithRateInterval overrides the inter-request spacing.
func WithRateInterval(d time.Duration) VastOption {
	return func(v *VastClient) { v.rateInterval = d }
}

// WithRetryWait overrides the base backoff wait for 429 responses.
func WithRetryWait(d time.Duration) VastOption {
	return func(v *VastClient) { v.retryWait = d }
}

// WithVastLogger sets the logger.
func WithVastLogger(log logger.Logger) VastOption {
	return func(v *VastClient) { v.log = log }
}

// NewVastClient creates a client for the given API root and key.
func NewVastClient(baseURL, apiKey string, timeout time.Duration, opts ...VastOption) *VastClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &VastClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		http:         &http.Client{Timeout: timeout},
		log:          logger.Default(),
		rateInterval: defaultRateInterval,
		retryWait:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Provider = (*VastClient)(nil)

// vastInstance is the wire shape of an instance. The API reports SSH
// proxy coordinates and direct coordinates separately.
type vastInstance struct {
	ID              json.Number `json:"id"`
	Label           string      `json:"label"`
	ActualStatus    string      `json:"actual_status"`
	SSHHost         string      `json:"ssh_host"`
	SSHPort         int         `json:"ssh_port"`
	PublicIP        string      `json:"public_ipaddr"`
	DirectPortStart int         `json:"direct_port_start"`
	GPUName         string      `json:"gpu_name"`
	NumGPUs         int         `json:"num_gpus"`
	DPHTotal        float64     `json:"dph_total"`
}

func (vi *vastInstance) toRemote() RemoteInstance {
	ri := RemoteInstance{
		ID:           vi.ID.String(),
		Label:        vi.Label,
		Status:       vi.ActualStatus,
		GPUName:      vi.GPUName,
		NumGPUs:      vi.NumGPUs,
		PricePerHour: vi.DPHTotal,
	}
	// Prefer the SSH proxy, fall back to direct connection.
	if vi.SSHHost != "" && vi.SSHPort > 0 {
		ri.Host, ri.Port = vi.SSHHost, vi.SSHPort
	} else if vi.PublicIP != "" && vi.DirectPortStart > 0 {
		ri.Host, ri.Port = vi.PublicIP, vi.DirectPortStart
	}
	return ri
}

// ListInstances implements Provider.
func (c *VastClient) ListInstances(ctx context.Context) ([]RemoteInstance, error) {
	var resp struct {
		Instances []vastInstance `json:"instances"`
	}
	if err := c.request(ctx, http.MethodGet, "/instances/", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]RemoteInstance, 0, len(resp.Instances))
	for i := range resp.Instances {
		out = append(out, resp.Instances[i].toRemote())
	}
	return out, nil
}

// GetInstance implements Provider. A 404 from the API is the explicit
// deletion signal the reconciler relies on.
func (c *VastClient) GetInstance(ctx context.Context, id string) (*RemoteInstance, error) {
	var resp struct {
		Instances vastInstance `json:"instances"`
	}
	if err := c.request(ctx, http.MethodGet, "/instances/"+id+"/", nil, &resp); err != nil {
		return nil, err
	}
	ri := resp.Instances.toRemote()
	if ri.ID == "" {
		ri.ID = id
	}
	return &ri, nil
}

// SearchOffers implements Provider. GPU types expand to the variant
// names the API actually uses, and results merge across variants,
// cheapest first.
func (c *VastClient) SearchOffers(ctx context.Context, q OfferQuery) ([]Offer, error) {
	if q.GPUType == "" {
		return c.searchCPUOffers(ctx, q)
	}

	seen := make(map[string]bool)
	var all []Offer
	for _, variant := range gpuVariants(q.GPUType) {
		params := map[string]any{
			"verified":   map[string]any{"eq": true},
			"rentable":   map[string]any{"eq": true},
			"gpu_name":   map[string]any{"eq": variant},
			"num_gpus":   map[string]any{"eq": q.NumGPUs},
			"disk_space": map[string]any{"gte": q.DiskGB},
		}
		if q.MinBandwidth > 0 {
			params["inet_down"] = map[string]any{"gte": q.MinBandwidth}
		}
		if q.MaxPrice > 0 {
			params["dph_total"] = map[string]any{"lte": q.MaxPrice}
		}

		offers, err := c.postOffers(ctx, params)
		if err != nil {
			c.log.Warn("offer search failed for %s: %v", variant, err)
			continue
		}
		for _, o := range offers {
			if !seen[o.ID] {
				seen[o.ID] = true
				all = append(all, o)
			}
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].PricePerHour < all[j].PricePerHour })
	return all, nil
}

func (c *VastClient) searchCPUOffers(ctx context.Context, q OfferQuery) ([]Offer, error) {
	minRamMB := q.MinRamGB * 1024
	params := map[string]any{
		"verified":   map[string]any{"eq": true},
		"rentable":   map[string]any{"eq": true},
		"cpu_cores":  map[string]any{"gte": q.MinCPUs},
		"cpu_ram":    map[string]any{"gte": minRamMB},
		"disk_space": map[string]any{"gte": q.DiskGB},
	}
	if q.MaxPrice > 0 {
		params["dph_total"] = map[string]any{"lte": q.MaxPrice}
	}

	offers, err := c.postOffers(ctx, params)
	if err != nil {
		return nil, err
	}

	// The API sometimes returns partial matches; filter again locally.
	filtered := offers[:0]
	for _, o := range offers {
		if o.CPUCores >= q.MinCPUs && o.CPURamMB >= minRamMB {
			filtered = append(filtered, o)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].PricePerHour < filtered[j].PricePerHour })
	return filtered, nil
}

func (c *VastClient) postOffers(ctx context.Context, params map[string]any) ([]Offer, error) {
	var resp struct {
		Offers []struct {
			ID       json.Number `json:"id"`
			GPUName  string      `json:"gpu_name"`
			NumGPUs  int         `json:"num_gpus"`
			CPUCores int         `json:"cpu_cores"`
			CPURam   int         `json:"cpu_ram"`
			Disk     float64     `json:"disk_space"`
			InetDown float64     `json:"inet_down"`
			DPHTotal float64     `json:"dph_total"`
			Verified bool        `json:"verified"`
		} `json:"offers"`
	}
	if err := c.request(ctx, http.MethodPost, "/bundles/", params, &resp); err != nil {
		return nil, err
	}
	out := make([]Offer, 0, len(resp.Offers))
	for _, o := range resp.Offers {
		out = append(out, Offer{
			ID:           o.ID.String(),
			GPUName:      o.GPUName,
			NumGPUs:      o.NumGPUs,
			CPUCores:     o.CPUCores,
			CPURamMB:     o.CPURam,
			DiskGB:       o.Disk,
			InetDownMbps: o.InetDown,
			PricePerHour: o.DPHTotal,
			Verified:     o.Verified,
		})
	}
	return out, nil
}

// Create implements Provider by accepting the offer.
func (c *VastClient) Create(ctx context.Context, req CreateRequest) (string, error) {
	payload := map[string]any{
		"client_id": "me",
		"image":     req.Image,
		"disk":      req.DiskGB,
		"onstart":   req.OnStart,
		"runtype":   "ssh",
		"label":     req.Label,
	}
	var resp struct {
		NewContract json.Number `json:"new_contract"`
	}
	if err := c.request(ctx, http.MethodPut, "/asks/"+req.OfferID+"/", payload, &resp); err != nil {
		return "", err
	}
	if resp.NewContract.String() == "" {
		return "", errors.New(errors.ErrProvider,
			"Provider accepted the offer but returned no instance id",
			"The offer may have been taken. Search again and retry.")
	}
	return resp.NewContract.String(), nil
}

// Start implements Provider.
func (c *VastClient) Start(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodPut, "/instances/"+id+"/",
		map[string]any{"state": "running"}, nil)
}

// Stop implements Provider.
func (c *VastClient) Stop(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodPut, "/instances/"+id+"/",
		map[string]any{"state": "stopped"}, nil)
}

// Destroy implements Provider.
func (c *VastClient) Destroy(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/instances/"+id+"/", nil, nil)
}

// AttachSSHKey implements Provider.
func (c *VastClient) AttachSSHKey(ctx context.Context, id, publicKey string) error {
	return c.request(ctx, http.MethodPost, "/instances/"+id+"/ssh/",
		map[string]any{"ssh_key": publicKey}, nil)
}

// request performs one API call with rate spacing and 429 backoff, and
// decodes the JSON response into out when non-nil.
func (c *VastClient) request(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrProvider,
				"Cannot encode API request", "")
		}
	}

	for attempt := 0; attempt < maxRateLimitRetries; attempt++ {
		c.waitRateLimit()

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrProvider,
				"Cannot build API request", "")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		c.log.Debug("api request: %s %s", method, path)
		resp, err := c.http.Do(req)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrProvider,
				fmt.Sprintf("Provider API unreachable (%s %s)", method, path),
				"Check your network connection and try again.")
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return errors.WrapWithCode(readErr, errors.ErrProvider,
				fmt.Sprintf("Failed reading provider response (%s %s)", method, path),
				"Check your network connection and try again.")
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRateLimitRetries-1 {
			wait := c.retryWait << attempt
			c.log.Warn("rate limited, retrying in %s", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return errors.WrapWithCode(ctx.Err(), errors.ErrProvider,
					"Provider request cancelled", "")
			}
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return errors.New(errors.ErrNotFound,
				fmt.Sprintf("Provider reports no such resource (%s %s)", method, path),
				"The instance may have been destroyed on the provider's side.")
		}
		if resp.StatusCode >= 400 {
			return errors.New(errors.ErrProvider,
				fmt.Sprintf("Provider API error %d: %s", resp.StatusCode, extractAPIError(data)),
				"Check your API key and account status at the provider console.")
		}

		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return errors.WrapWithCode(err, errors.ErrProvider,
					fmt.Sprintf("Unexpected provider response shape (%s %s)", method, path), "")
			}
		}
		return nil
	}

	return errors.New(errors.ErrProvider,
		"Provider API kept rate-limiting requests",
		"Wait a minute and try again.")
}

func (c *VastClient) waitRateLimit() {
	if c.rateInterval <= 0 {
		return
	}
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	var wait time.Duration
	if elapsed < c.rateInterval {
		wait = c.rateInterval - elapsed
	}
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}

// extractAPIError digs the human message out of an error payload. The
// API uses several different keys.
func extractAPIError(data []byte) string {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err == nil {
		for _, key := range []string{"msg", "error", "message", "detail"} {
			if v, ok := body[key].(string); ok && v != "" {
				return v
			}
		}
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "no details"
	}
	return s
}

// gpuVariants maps a user-facing GPU type to the gpu_name values the
// API actually stores.
func gpuVariants(gpuType string) []string {
	variants := map[string][]string{
		"A100":    {"A100", "A100 SXM", "A100 PCIE", "A100-SXM4-80GB", "A100-PCIE-40GB"},
		"H100":    {"H100", "H100 SXM", "H100 PCIE", "H100 NVL"},
		"H200":    {"H200", "H200 SXM", "H200 NVL"},
		"L40S":    {"L40S"},
		"RTX5090": {"RTX 5090"},
		"RTX5080": {"RTX 5080"},
		"RTX4090": {"RTX 4090"},
		"RTX4080": {"RTX 4080"},
		"RTX4070": {"RTX 4070", "RTX 4070S"},
		"RTX3090": {"RTX 3090"},
	}
	key := strings.ToUpper(strings.ReplaceAll(gpuType, " ", ""))
	if v, ok := variants[key]; ok {
		return v
	}
	return []string{gpuType}
}
