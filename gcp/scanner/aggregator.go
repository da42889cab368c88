package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	projectservice "github.com/sz9751210/gcp-network-tool/gcp/services/projectService"
	"github.com/sz9751210/gcp-network-tool/globals"
	"github.com/sz9751210/gcp-network-tool/internal"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/store"
)

// targetResolver expands a scan target into concrete projects.
type targetResolver interface {
	ResolveTarget(ctx context.Context, sourceType, sourceID string) ([]projectservice.ProjectInfo, error)
}

// projectScanner runs one project's scan. Implementations must not
// return errors; failure is carried in the result's scan status.
type projectScanner interface {
	ScanProject(ctx context.Context, projectID string, opts ScanOptions) ProjectResult
}

// scanRecorder is the slice of the snapshot store the aggregator
// drives through the pending/running/completed/failed lifecycle.
type scanRecorder interface {
	Save(record store.ScanRecord) error
}

// TopologyAggregator fans ScanProject out over the resolved project
// set and joins the results into one Topology snapshot.
type TopologyAggregator struct {
	resolver targetResolver
	scanner  projectScanner
	recorder scanRecorder
	logger   internal.Logger
}

// NewTopologyAggregator wires the production discovery and orchestrator
// onto a session. recorder may be nil when no persistence is wanted.
func NewTopologyAggregator(session *gcpinternal.SafeSession, recorder scanRecorder) *TopologyAggregator {
	return &TopologyAggregator{
		resolver: projectservice.NewWithSession(session),
		scanner:  NewProjectOrchestrator(session),
		recorder: recorder,
		logger:   internal.NewLogger(),
	}
}

// RunScan resolves the target, scans every project over a bounded
// pool, and returns the joined Topology. The only error it surfaces is
// an invalid scan target; anything else degrades into the snapshot
// (worst case: every project failed, or zero projects resolved). The
// recorder sees pending before discovery, running before fan-out, and
// exactly one of completed or failed at the end.
func (ta *TopologyAggregator) RunScan(ctx context.Context, sourceType, sourceID string, opts ScanOptions) (models.Topology, error) {
	return ta.RunScanAs(ctx, uuid.New().String(), sourceType, sourceID, opts)
}

// RunScanAs is RunScan with a caller-assigned scan id, for callers
// that hand out the id before the scan finishes.
func (ta *TopologyAggregator) RunScanAs(ctx context.Context, scanID, sourceType, sourceID string, opts ScanOptions) (models.Topology, error) {
	topology := models.Topology{
		ScanID:        scanID,
		ScanTimestamp: time.Now().UTC(),
		SourceType:    sourceType,
		SourceID:      sourceID,
	}
	ta.record(topology, store.StatePending, "")

	projects, err := ta.resolver.ResolveTarget(ctx, sourceType, sourceID)
	if err != nil {
		if errors.Is(err, gcpinternal.ErrInvalidScanTarget) {
			ta.record(topology, store.StateFailed, err.Error())
			return topology, err
		}
		// Discovery failure short of an invalid target yields an empty
		// failed snapshot, not an error.
		ta.logger.ErrorMf(globals.GCP_SCANNER_MODULE_NAME, "resolving scan target %s/%s: %v", sourceType, sourceID, err)
		ta.record(topology, store.StateFailed, err.Error())
		return topology, nil
	}

	// Deterministic submission order; results still join by completion.
	sort.Slice(projects, func(i, j int) bool { return projects[i].ProjectID < projects[j].ProjectID })
	topology.TotalProjects = len(projects)
	ta.record(topology, store.StateRunning, "")

	workers := opts.ProjectWorkers
	if workers <= 0 {
		workers = globals.DEFAULT_PROJECT_WORKERS
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)
	var mu sync.Mutex

	for _, p := range projects {
		wg.Add(1)
		go func(p projectservice.ProjectInfo) {
			defer wg.Done()
			defer func() {
				// ScanProject recovers its own panics; this guards the
				// join itself so one bad future cannot sink the rest.
				if r := recover(); r != nil {
					ta.logger.ErrorMf(globals.GCP_SCANNER_MODULE_NAME, "panic joining project %s: %v", p.ProjectID, r)
					mu.Lock()
					topology.Projects = append(topology.Projects, models.Project{
						ProjectID:    p.ProjectID,
						ProjectName:  p.DisplayName,
						ScanStatus:   models.ScanError,
						ErrorMessage: "internal error during scan",
					})
					mu.Unlock()
				}
			}()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			result := ta.scanner.ScanProject(ctx, p.ProjectID, opts)
			if result.Project.ProjectName == "" {
				result.Project.ProjectName = p.DisplayName
			}

			mu.Lock()
			defer mu.Unlock()
			topology.Projects = append(topology.Projects, result.Project)
			topology.PublicIPs = append(topology.PublicIPs, result.PublicIPs...)
			topology.UsedInternalIPs = append(topology.UsedInternalIPs, result.InternalIPs...)
			topology.FirewallRules = append(topology.FirewallRules, result.FirewallRules...)
			topology.SecurityPolicies = append(topology.SecurityPolicies, result.SecurityPolicies...)
			topology.BackendServices = append(topology.BackendServices, result.BackendServices...)
			topology.Instances = append(topology.Instances, result.Project.Instances...)
			topology.GKEClusters = append(topology.GKEClusters, result.Project.GKEClusters...)
			topology.Buckets = append(topology.Buckets, result.Project.Buckets...)
		}(p)
	}
	wg.Wait()

	for _, p := range topology.Projects {
		if p.ScanStatus != models.ScanSuccess {
			topology.FailedProjects++
			continue
		}
		topology.TotalVPCs += len(p.VPCNetworks)
		for _, n := range p.VPCNetworks {
			topology.TotalSubnets += len(n.Subnets)
		}
	}

	ta.record(topology, store.StateCompleted, "")
	ta.logger.SuccessM("scan finished", globals.GCP_SCANNER_MODULE_NAME)
	return topology, nil
}

func (ta *TopologyAggregator) record(topology models.Topology, state store.ScanState, errMsg string) {
	if ta.recorder == nil {
		return
	}
	record := store.ScanRecord{
		ScanID:     topology.ScanID,
		State:      state,
		SourceType: topology.SourceType,
		SourceID:   topology.SourceID,
		StartedAt:  topology.ScanTimestamp,
		Error:      errMsg,
	}
	if state == store.StateCompleted {
		snapshot := topology
		record.Topology = &snapshot
		record.FinishedAt = time.Now().UTC()
	}
	if state == store.StateFailed {
		record.FinishedAt = time.Now().UTC()
	}
	if err := ta.recorder.Save(record); err != nil {
		ta.logger.ErrorMf(globals.GCP_SCANNER_MODULE_NAME, "saving scan %s state %s: %v", topology.ScanID, state, err)
	}
}
