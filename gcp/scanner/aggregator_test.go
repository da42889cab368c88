package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	projectservice "github.com/sz9751210/gcp-network-tool/gcp/services/projectService"
	"github.com/sz9751210/gcp-network-tool/internal"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/store"
)

type fakeResolver struct {
	projects []projectservice.ProjectInfo
	err      error
}

func (f *fakeResolver) ResolveTarget(context.Context, string, string) ([]projectservice.ProjectInfo, error) {
	return f.projects, f.err
}

// fakeScanner fails (or panics) for the named projects and succeeds
// for the rest.
type fakeScanner struct {
	failing  map[string]bool
	panicing map[string]bool
}

func (f *fakeScanner) ScanProject(_ context.Context, projectID string, _ ScanOptions) ProjectResult {
	if f.panicing[projectID] {
		panic("scanner blew up on " + projectID)
	}
	if f.failing[projectID] {
		return ProjectResult{Project: models.Project{
			ProjectID:    projectID,
			ScanStatus:   models.ScanError,
			ErrorMessage: "simulated failure",
		}}
	}
	return ProjectResult{
		Project: models.Project{
			ProjectID:  projectID,
			ScanStatus: models.ScanSuccess,
			VPCNetworks: []models.VPCNetwork{
				{Name: projectID + "-vpc", Subnets: []models.Subnet{{Name: "s1"}, {Name: "s2"}}},
			},
		},
		PublicIPs: []models.Address{
			{IPAddress: "34.0.0.1", Kind: models.AddressExternal, ProjectID: projectID},
		},
	}
}

type memRecorder struct {
	mu     sync.Mutex
	states []store.ScanState
	last   store.ScanRecord
}

func (r *memRecorder) Save(record store.ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, record.State)
	r.last = record
	return nil
}

func projects(ids ...string) []projectservice.ProjectInfo {
	out := make([]projectservice.ProjectInfo, len(ids))
	for i, id := range ids {
		out[i] = projectservice.ProjectInfo{ProjectID: id, DisplayName: id}
	}
	return out
}

func newTestAggregator(resolver targetResolver, scanner projectScanner, recorder scanRecorder) *TopologyAggregator {
	return &TopologyAggregator{
		resolver: resolver,
		scanner:  scanner,
		recorder: recorder,
		logger:   internal.NewLogger(),
	}
}

func TestRunScanPartialFailureIsolation(t *testing.T) {
	ta := newTestAggregator(
		&fakeResolver{projects: projects("a", "b", "c")},
		&fakeScanner{failing: map[string]bool{"b": true}},
		nil,
	)

	topology, err := ta.RunScan(context.Background(), "projects", "a,b,c", DefaultScanOptions())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}

	if topology.TotalProjects != 3 || topology.FailedProjects != 1 {
		t.Errorf("counters = %d total / %d failed, want 3/1", topology.TotalProjects, topology.FailedProjects)
	}
	if len(topology.Projects) != 3 {
		t.Fatalf("projects joined = %d, want all 3", len(topology.Projects))
	}
	// Two healthy projects contributed resources.
	if len(topology.PublicIPs) != 2 {
		t.Errorf("public ips = %d, want 2", len(topology.PublicIPs))
	}
	if topology.TotalVPCs != 2 || topology.TotalSubnets != 4 {
		t.Errorf("vpc/subnet counters = %d/%d, want 2/4", topology.TotalVPCs, topology.TotalSubnets)
	}
}

func TestRunScanSurvivesScannerPanic(t *testing.T) {
	ta := newTestAggregator(
		&fakeResolver{projects: projects("ok", "boom")},
		&fakeScanner{panicing: map[string]bool{"boom": true}},
		nil,
	)

	topology, err := ta.RunScan(context.Background(), "projects", "ok,boom", DefaultScanOptions())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}

	if len(topology.Projects) != 2 {
		t.Fatalf("projects joined = %d, want 2", len(topology.Projects))
	}
	if topology.FailedProjects != 1 {
		t.Errorf("failed = %d, want 1", topology.FailedProjects)
	}
}

func TestRunScanInvalidTarget(t *testing.T) {
	recorder := &memRecorder{}
	ta := newTestAggregator(
		&fakeResolver{err: gcpinternal.ErrInvalidScanTarget},
		&fakeScanner{},
		recorder,
	)

	_, err := ta.RunScan(context.Background(), "nonsense", "x", DefaultScanOptions())
	if !errors.Is(err, gcpinternal.ErrInvalidScanTarget) {
		t.Fatalf("err = %v, want ErrInvalidScanTarget", err)
	}
	if recorder.last.State != store.StateFailed {
		t.Errorf("final recorded state = %s, want failed", recorder.last.State)
	}
}

func TestRunScanDiscoveryFailureDegrades(t *testing.T) {
	ta := newTestAggregator(
		&fakeResolver{err: errors.New("resource manager unavailable")},
		&fakeScanner{},
		nil,
	)

	topology, err := ta.RunScan(context.Background(), "organization", "123", DefaultScanOptions())
	if err != nil {
		t.Fatalf("RunScan returned %v, want degraded snapshot with nil error", err)
	}
	if topology.TotalProjects != 0 || len(topology.Projects) != 0 {
		t.Errorf("degenerate topology = %+v", topology)
	}
}

func TestRunScanLifecycleRecording(t *testing.T) {
	recorder := &memRecorder{}
	ta := newTestAggregator(
		&fakeResolver{projects: projects("a")},
		&fakeScanner{},
		recorder,
	)

	topology, err := ta.RunScan(context.Background(), "project", "a", DefaultScanOptions())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}

	want := []store.ScanState{store.StatePending, store.StateRunning, store.StateCompleted}
	if len(recorder.states) != len(want) {
		t.Fatalf("recorded states = %v, want %v", recorder.states, want)
	}
	for i, w := range want {
		if recorder.states[i] != w {
			t.Errorf("state[%d] = %s, want %s", i, recorder.states[i], w)
		}
	}
	if recorder.last.Topology == nil || recorder.last.Topology.ScanID != topology.ScanID {
		t.Error("completed record missing the snapshot")
	}
	if recorder.last.FinishedAt.IsZero() {
		t.Error("completed record missing finish time")
	}
}
