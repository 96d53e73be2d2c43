package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
)

func testClient(t *testing.T, handler http.Handler) *VastClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewVastClient(srv.URL, "sk-test", 5*time.Second,
		WithRateInterval(0),
		WithRetryWait(time.Millisecond),
		WithVastLogger(logger.Noop()))
}

func TestListInstances(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instances/", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"instances": []map[string]any{
				{
					"id": 123, "label": "mybox", "actual_status": "running",
					"ssh_host": "ssh4.vast.ai", "ssh_port": 22022,
					"gpu_name": "A100", "num_gpus": 2, "dph_total": 1.25,
				},
				{
					"id": 456, "label": "direct", "actual_status": "stopped",
					"public_ipaddr": "5.6.7.8", "direct_port_start": 40010,
				},
			},
		})
	}))

	instances, err := c.ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 2)

	// Proxy coordinates preferred
	assert.Equal(t, "123", instances[0].ID)
	assert.Equal(t, "ssh4.vast.ai", instances[0].Host)
	assert.Equal(t, 22022, instances[0].Port)
	assert.True(t, instances[0].Running())

	// Direct coordinates as fallback
	assert.Equal(t, "5.6.7.8", instances[1].Host)
	assert.Equal(t, 40010, instances[1].Port)
}

func TestGetInstance_NotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "no such instance"}`, http.StatusNotFound)
	}))

	_, err := c.GetInstance(context.Background(), "999")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetInstance_OK(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instances/123/", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"instances": map[string]any{
				"id": 123, "label": "mybox", "actual_status": "running",
				"ssh_host": "ssh4.vast.ai", "ssh_port": 22022,
			},
		})
	}))

	inst, err := c.GetInstance(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "mybox", inst.Label)
	assert.Equal(t, "ssh4.vast.ai", inst.Host)
}

func TestCreate(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/asks/777/", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "me", body["client_id"])
		assert.Equal(t, "ssh", body["runtype"])
		assert.Equal(t, "mybox", body["label"])

		json.NewEncoder(w).Encode(map[string]any{"success": true, "new_contract": 8811})
	}))

	id, err := c.Create(context.Background(), CreateRequest{
		OfferID: "777", Image: "pytorch/pytorch", DiskGB: 200, Label: "mybox",
	})
	require.NoError(t, err)
	assert.Equal(t, "8811", id)
}

func TestCreate_NoContractID(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))

	_, err := c.Create(context.Background(), CreateRequest{OfferID: "777"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrProvider))
}

func TestStopSendsStatePayload(t *testing.T) {
	var gotState string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotState = body["state"]
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.Stop(context.Background(), "123"))
	assert.Equal(t, "stopped", gotState)
}

func TestRateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"instances": []any{}})
	}))

	_, err := c.ListInstances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAPIErrorMessageExtraction(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"msg": "insufficient credit"}`, http.StatusBadRequest)
	}))

	err := c.Start(context.Background(), "123")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrProvider))
	assert.Contains(t, err.Error(), "insufficient credit")
}

func TestSearchOffers_SortedCheapestFirst(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bundles/", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"offers": []map[string]any{
				{"id": 1, "gpu_name": "L40S", "num_gpus": 1, "dph_total": 0.90},
				{"id": 2, "gpu_name": "L40S", "num_gpus": 1, "dph_total": 0.45},
			},
		})
	}))

	offers, err := c.SearchOffers(context.Background(), OfferQuery{
		GPUType: "L40S", NumGPUs: 1, DiskGB: 100,
	})
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, "2", offers[0].ID)
	assert.Equal(t, 0.45, offers[0].PricePerHour)
}

func TestSearchOffers_CPUFiltering(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Contains(t, body, "cpu_cores")

		json.NewEncoder(w).Encode(map[string]any{
			"offers": []map[string]any{
				{"id": 1, "cpu_cores": 8, "cpu_ram": 32768, "dph_total": 0.10},
				{"id": 2, "cpu_cores": 2, "cpu_ram": 8192, "dph_total": 0.05},
			},
		})
	}))

	offers, err := c.SearchOffers(context.Background(), OfferQuery{
		MinCPUs: 4, MinRamGB: 16, DiskGB: 40,
	})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "1", offers[0].ID)
}

func TestGPUVariants(t *testing.T) {
	assert.Contains(t, gpuVariants("a100"), "A100 SXM")
	assert.Contains(t, gpuVariants("RTX 4090"), "RTX 4090")
	assert.Equal(t, []string{"Custom GPU"}, gpuVariants("Custom GPU"))
}
