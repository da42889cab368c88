package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/gcp/scanner"
	"github.com/sz9751210/gcp-network-tool/internal/creds"
	"github.com/sz9751210/gcp-network-tool/internal/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) RunScanAs(_ context.Context, scanID, _, _ string, _ scanner.ScanOptions) (models.Topology, error) {
	f.mu.Lock()
	f.calls = append(f.calls, scanID)
	f.mu.Unlock()
	return models.Topology{ScanID: scanID}, nil
}

func newTestServer(t *testing.T) (*Server, *store.SnapshotStore, *fakeRunner) {
	t.Helper()
	snapshots, err := store.NewSnapshotStore(afero.NewMemMapFs(), "/scans")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	credentials, err := creds.NewManager(afero.NewMemMapFs(), "/creds")
	if err != nil {
		t.Fatalf("creds: %v", err)
	}
	runner := &fakeRunner{}
	return NewServer(snapshots, credentials, runner), snapshots, runner
}

func seedSnapshot(t *testing.T, snapshots *store.SnapshotStore) models.Topology {
	t.Helper()
	topology := models.Topology{
		ScanID:        "seed-scan",
		TotalProjects: 1,
		Projects: []models.Project{
			{
				ProjectID:  "p1",
				ScanStatus: models.ScanSuccess,
				VPCNetworks: []models.VPCNetwork{
					{Name: "prod-vpc", Subnets: []models.Subnet{{Name: "web", IPCidrRange: "10.0.0.0/24"}}},
				},
			},
		},
		PublicIPs: []models.Address{
			{
				IPAddress: "34.0.0.9", Kind: models.AddressExternal,
				ResourceType: models.ResourceStaticReservation, ResourceName: "forgotten-ip",
				ProjectID: "p1", Status: "RESERVED",
			},
		},
	}
	err := snapshots.Save(store.ScanRecord{
		ScanID:    "seed-scan",
		State:     store.StateCompleted,
		StartedAt: time.Now().UTC(),
		Topology:  &topology,
	})
	if err != nil {
		t.Fatalf("seeding snapshot: %v", err)
	}
	return topology
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		t.Fatalf("decoding body %q: %v", data, err)
	}
}

func TestSubmitScanReturnsID(t *testing.T) {
	server, _, runner := newTestServer(t)

	req, _ := http.NewRequest("POST", "/api/scans", strings.NewReader(`{"source_type":"project","source_id":"p1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var body struct {
		ScanID string `json:"scan_id"`
	}
	decodeBody(t, resp, &body)
	if body.ScanID == "" {
		t.Fatal("no scan id returned")
	}

	// Background launch: give it a moment, then verify the runner got
	// the same id the client did.
	deadline := time.Now().Add(2 * time.Second)
	for {
		runner.mu.Lock()
		n := len(runner.calls)
		runner.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 1 || runner.calls[0] != body.ScanID {
		t.Errorf("runner calls = %v, want [%s]", runner.calls, body.ScanID)
	}
}

func TestSubmitScanValidation(t *testing.T) {
	server, _, _ := newTestServer(t)

	req, _ := http.NewRequest("POST", "/api/scans", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetScanNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)

	req, _ := http.NewRequest("GET", "/api/scans/ghost", nil)
	resp, err := server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestLatestTopology(t *testing.T) {
	server, snapshots, _ := newTestServer(t)
	seedSnapshot(t, snapshots)

	req, _ := http.NewRequest("GET", "/api/topology/latest", nil)
	resp, err := server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var topology models.Topology
	decodeBody(t, resp, &topology)
	if topology.ScanID != "seed-scan" || topology.TotalProjects != 1 {
		t.Errorf("topology = %+v", topology)
	}
}

func TestLatestTopologyEmptyStore(t *testing.T) {
	server, _, _ := newTestServer(t)

	req, _ := http.NewRequest("GET", "/api/topology/latest", nil)
	resp, err := server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCheckCIDRConflictAndSuggestions(t *testing.T) {
	server, snapshots, _ := newTestServer(t)
	seedSnapshot(t, snapshots)

	req, _ := http.NewRequest("POST", "/api/cidr/check", strings.NewReader(`{"cidr":"10.0.0.128/25"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Available   bool            `json:"available"`
		Conflicts   []cidrConflict  `json:"conflicts"`
		Suggestions []string        `json:"suggestions"`
	}
	decodeBody(t, resp, &body)
	if body.Available {
		t.Error("colliding range reported available")
	}
	if len(body.Conflicts) != 1 || body.Conflicts[0].Subnet != "web" {
		t.Errorf("conflicts = %+v", body.Conflicts)
	}
	if len(body.Suggestions) == 0 {
		t.Error("no alternatives suggested for a colliding range")
	}
	for _, s := range body.Suggestions {
		if !strings.HasSuffix(s, "/25") {
			t.Errorf("suggestion %s does not match requested size", s)
		}
	}
}

type cidrConflict struct {
	Subnet  string `json:"subnet"`
	CIDR    string `json:"cidr"`
	Overlap string `json:"overlap"`
}

func TestLatestReportIncludesCostFinding(t *testing.T) {
	server, snapshots, _ := newTestServer(t)
	seedSnapshot(t, snapshots)

	req, _ := http.NewRequest("GET", "/api/report/latest", nil)
	resp, err := server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var report struct {
		Issues []struct {
			Category     string `json:"category"`
			ResourceName string `json:"resource_name"`
		} `json:"issues"`
	}
	decodeBody(t, resp, &report)
	found := false
	for _, issue := range report.Issues {
		if issue.Category == "COST" && issue.ResourceName == "forgotten-ip" {
			found = true
		}
	}
	if !found {
		t.Errorf("report issues = %+v, want the unattached reservation", report.Issues)
	}
}

func TestCredentialLifecycleOverHTTP(t *testing.T) {
	server, _, _ := newTestServer(t)

	key := `{"type":"service_account","project_id":"p1","private_key_id":"a","private_key":"b","client_email":"c@p1.iam.gserviceaccount.com"}`
	body, _ := json.Marshal(map[string]string{"name": "prod", "key": key})
	req, _ := http.NewRequest("POST", "/api/credentials", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest("GET", "/api/credentials", nil)
	resp, err = server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	var list struct {
		Credentials []creds.Credential `json:"credentials"`
	}
	decodeBody(t, resp, &list)
	if len(list.Credentials) != 1 || !list.Credentials[0].Active {
		t.Errorf("credentials = %+v", list.Credentials)
	}

	req, _ = http.NewRequest("DELETE", "/api/credentials/prod", nil)
	resp, err = server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
}
