package collective

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/disthist/internal/cluster"
	"github.com/dreamware/disthist/internal/histogram"
	"github.com/dreamware/disthist/internal/partition"
	"github.com/dreamware/disthist/internal/worker"
)

// group starts size worker servers; rank 0 plays the coordinator.
func group(t *testing.T, size int) ([]cluster.NodeInfo, []*worker.Worker) {
	t.Helper()
	members := make([]cluster.NodeInfo, size)
	workers := make([]*worker.Worker, size)
	for r := 0; r < size; r++ {
		role := cluster.RoleWorker
		if r == 0 {
			role = cluster.RoleCoordinator
		}
		id := fmt.Sprintf("m%d", r)
		w := worker.New(id, role)
		srv := httptest.NewServer(worker.NewHandler(w))
		t.Cleanup(srv.Close)
		members[r] = cluster.NodeInfo{ID: id, Addr: srv.URL, Role: role, Rank: r}
		workers[r] = w
	}
	return members, workers
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%200) * histogram.DefaultRange / 200
	}
	return out
}

func runConfig(runID string, bins int, items int64, members []cluster.NodeInfo) (cluster.RunConfig, error) {
	plan, err := partition.Partition(items, len(members))
	if err != nil {
		return cluster.RunConfig{}, err
	}
	return cluster.RunConfig{RunID: runID, Bins: histogram.NewConfig(bins), Items: items, Members: members, Plan: plan}, nil
}

func TestNew(t *testing.T) {
	coord := cluster.NodeInfo{ID: "c", Addr: "http://c", Role: cluster.RoleCoordinator, Rank: 0}
	w1 := cluster.NodeInfo{ID: "w1", Addr: "http://w1", Role: cluster.RoleWorker, Rank: 1}

	t.Run("sorts by rank", func(t *testing.T) {
		c, err := New([]cluster.NodeInfo{w1, coord}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, c.Size())
		assert.Equal(t, "c", c.Root().ID)
		assert.Equal(t, []cluster.NodeInfo{coord, w1}, c.Members())
	})

	t.Run("coordinator need not be rank zero", func(t *testing.T) {
		a := cluster.NodeInfo{ID: "a", Addr: "http://a", Role: cluster.RoleWorker, Rank: 0}
		b := cluster.NodeInfo{ID: "b", Addr: "http://b", Role: cluster.RoleCoordinator, Rank: 1}
		c, err := New([]cluster.NodeInfo{a, b}, nil)
		require.NoError(t, err)
		assert.Equal(t, "b", c.Root().ID)
	})

	tests := []struct {
		name    string
		members []cluster.NodeInfo
		want    error
	}{
		{name: "empty", members: nil, want: ErrMembership},
		{name: "rank gap", members: []cluster.NodeInfo{coord, {ID: "w2", Addr: "http://w2", Rank: 2}}, want: ErrMembership},
		{name: "duplicate rank", members: []cluster.NodeInfo{coord, {ID: "x", Addr: "http://x", Rank: 0}}, want: ErrMembership},
		{name: "missing address", members: []cluster.NodeInfo{coord, {ID: "w1", Rank: 1}}, want: ErrMembership},
		{name: "no coordinator", members: []cluster.NodeInfo{w1, {ID: "w0", Addr: "http://w0", Rank: 0}}, want: ErrNoCoordinator},
		{name: "two coordinators", members: []cluster.NodeInfo{coord, {ID: "c2", Addr: "http://c2", Role: cluster.RoleCoordinator, Rank: 1}}, want: ErrMembership},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.members, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestCollectiveRun runs the whole protocol against real worker handlers
func TestCollectiveRun(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		items int
		bins  int
	}{
		{name: "single member", size: 1, items: 1000, bins: 10},
		{name: "uneven split", size: 3, items: 1001, bins: 7},
		{name: "more members than items", size: 4, items: 2, bins: 3},
		{name: "no items", size: 3, items: 0, bins: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members, workers := group(t, tt.size)
			comm, err := New(members, nil)
			require.NoError(t, err)

			ctx := context.Background()
			data := ramp(tt.items)
			cfg, err := runConfig("run-1", tt.bins, int64(len(data)), comm.Members())
			require.NoError(t, err)

			require.NoError(t, comm.Broadcast(ctx, cfg))
			require.NoError(t, comm.Scatter(ctx, "run-1", data, cfg.Plan))
			for _, w := range workers {
				assert.Equal(t, worker.PhaseLoaded, w.Phase())
			}

			global, results, err := comm.Reduce(ctx, "run-1", tt.bins)
			require.NoError(t, err)
			require.Len(t, results, tt.size)
			for r, res := range results {
				assert.Equal(t, r, res.Rank)
				assert.Equal(t, cfg.Plan[r].Count, res.Samples)
			}

			want := histogram.Build(data, histogram.NewConfig(tt.bins))
			assert.Equal(t, histogram.Global(want), global)
			assert.Equal(t, int64(tt.items), global.Total())

			require.NoError(t, comm.Release(ctx, "run-1"))
			for _, w := range workers {
				<-w.Done()
			}
		})
	}
}

func TestScatterRejectsBadPlan(t *testing.T) {
	members, _ := group(t, 2)
	comm, err := New(members, nil)
	require.NoError(t, err)

	plan, err := partition.Partition(10, 3)
	require.NoError(t, err)
	assert.ErrorIs(t, comm.Scatter(context.Background(), "run-1", ramp(10), plan), ErrMembership)

	plan, err = partition.Partition(9, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, comm.Scatter(context.Background(), "run-1", ramp(10), plan), partition.ErrInvalidPartition)
}

func TestGatherFailsOnMemberError(t *testing.T) {
	members, _ := group(t, 2)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk on fire", http.StatusInternalServerError)
	}))
	defer broken.Close()
	members = append(members, cluster.NodeInfo{ID: "m2", Addr: broken.URL, Role: cluster.RoleWorker, Rank: 2})

	comm, err := New(members, nil)
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := runConfig("run-1", 4, 9, comm.Members())
	require.NoError(t, err)

	err = comm.Broadcast(ctx, cfg)
	var me *MemberError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "broadcast", me.Op)
	assert.Equal(t, "m2", me.Node.ID)

	var se *cluster.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
}

func TestReduceRejectsInconsistentResult(t *testing.T) {
	liar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"run_id":"run-1","rank":0,"samples":3,"counts":[1,1]}`)
	}))
	defer liar.Close()

	comm, err := New([]cluster.NodeInfo{{ID: "c", Addr: liar.URL, Role: cluster.RoleCoordinator}}, nil)
	require.NoError(t, err)

	_, _, err = comm.Reduce(context.Background(), "run-1", 2)
	assert.ErrorIs(t, err, ErrResult)
}

func TestGatherRejectsWrongRank(t *testing.T) {
	liar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"run_id":"run-1","rank":4,"samples":0,"counts":[0,0]}`)
	}))
	defer liar.Close()

	comm, err := New([]cluster.NodeInfo{{ID: "c", Addr: liar.URL, Role: cluster.RoleCoordinator}}, nil)
	require.NoError(t, err)

	_, err = comm.Gather(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrResult)
}
