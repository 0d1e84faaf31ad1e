package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/disthist/internal/histogram"
	"github.com/dreamware/disthist/internal/partition"
	"github.com/dreamware/disthist/internal/wire"
)

// TestNodeInfo tests the NodeInfo JSON field names
func TestNodeInfo(t *testing.T) {
	node := NodeInfo{ID: "n1", Addr: "http://localhost:8081", Role: RoleWorker, Rank: 2}

	data, err := json.Marshal(node)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "n1", m["id"])
	assert.Equal(t, "http://localhost:8081", m["addr"])
	assert.Equal(t, "worker", m["role"])
	assert.Equal(t, float64(2), m["rank"])

	var decoded NodeInfo
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, node, decoded)
	assert.False(t, decoded.IsCoordinator())
	assert.True(t, NodeInfo{Role: RoleCoordinator}.IsCoordinator())
}

func TestRunConfigJSON(t *testing.T) {
	plan, err := partition.Partition(100, 2)
	require.NoError(t, err)
	cfg := RunConfig{
		RunID: "r1",
		Bins:  histogram.NewConfig(4),
		Items: 100,
		Members: []NodeInfo{
			{ID: "c", Addr: "http://localhost:8080", Role: RoleCoordinator, Rank: 0},
			{ID: "n1", Addr: "http://localhost:8081", Role: RoleWorker, Rank: 1},
		},
		Plan: plan,
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var decoded RunConfig
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, cfg, decoded)
	assert.Equal(t, 2, decoded.Size())
}

// TestPostJSON tests JSON POST requests
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		out      any
		wantErr  bool
	}{
		{name: "no content", status: http.StatusNoContent},
		{name: "decodes response", status: http.StatusOK, response: `{"rank":3,"size":4}`, out: &RegisterResponse{}},
		{name: "server error", status: http.StatusInternalServerError, response: "boom", wantErr: true},
		{name: "conflict", status: http.StatusConflict, response: "registry full", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				var req RegisterRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "n1", req.Node.ID)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.response)
			}))
			defer srv.Close()

			err := PostJSON(context.Background(), srv.URL, RegisterRequest{Node: NodeInfo{ID: "n1"}}, tt.out)
			if tt.wantErr {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, tt.status, se.Code)
				assert.Equal(t, tt.response, se.Msg)
				return
			}
			require.NoError(t, err)
			if resp, ok := tt.out.(*RegisterResponse); ok {
				assert.Equal(t, RegisterResponse{Rank: 3, Size: 4}, *resp)
			}
		})
	}
}

// TestGetJSON tests JSON GET requests
func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(NodeInfo{ID: "n2", Rank: 1})
	}))
	defer srv.Close()

	var out NodeInfo
	require.NoError(t, GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "n2", out.ID)
	assert.Equal(t, 1, out.Rank)
}

func TestPostJSONContextCanceled(t *testing.T) {
	unblock := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the server only notices a client disconnect once the body is read
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-unblock:
		}
	}))
	defer srv.Close()
	defer close(unblock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := NewClient(0).PostJSON(ctx, srv.URL, RunRef{RunID: "r"}, nil)
	assert.Error(t, err)
}

func TestPostSlice(t *testing.T) {
	data := []float32{1, 2.5, 19.75, 0}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wire.ContentType, r.Header.Get("Content-Type"))
		assert.Equal(t, "run-7", r.Header.Get(wire.HeaderRunID))
		assert.Equal(t, "40", r.Header.Get(wire.HeaderOffset))

		count, err := strconv.ParseInt(r.Header.Get(wire.HeaderCount), 10, 64)
		assert.NoError(t, err)
		sum, err := wire.ParseChecksum(r.Header.Get(wire.HeaderChecksum))
		assert.NoError(t, err)

		got, err := wire.Decode(r.Body, count, sum)
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, data, got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(0).PostSlice(context.Background(), srv.URL, "run-7", 40, data))
}
