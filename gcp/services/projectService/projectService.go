package projectservice

import (
	"context"
	"fmt"
	"strings"

	resourcemanagerpb "cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"google.golang.org/api/iterator"

	"github.com/sz9751210/gcp-network-tool/globals"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/gcp/sdk"
)

// ProjectService resolves a scan target (single project, comma list,
// folder, organization, or everything the caller can see) into the
// concrete set of ACTIVE projects to scan.
type ProjectService struct {
	session *gcpinternal.SafeSession
	catalog resourceCatalog
}

// New creates a new ProjectService
func New() *ProjectService {
	svc := &ProjectService{}
	svc.catalog = &apiCatalog{svc: svc}
	return svc
}

// NewWithSession creates a ProjectService with a SafeSession for managed authentication
func NewWithSession(session *gcpinternal.SafeSession) *ProjectService {
	svc := &ProjectService{session: session}
	svc.catalog = &apiCatalog{svc: svc}
	return svc
}

// NewWithCatalog wires an alternate catalog, used by tests.
func NewWithCatalog(catalog resourceCatalog) *ProjectService {
	return &ProjectService{catalog: catalog}
}

// ProjectInfo represents project details
type ProjectInfo struct {
	ProjectID     string            `json:"projectId"`
	DisplayName   string            `json:"displayName"`
	ProjectNumber string            `json:"projectNumber,omitempty"`
	Parent        string            `json:"parent"` // organizations/X or folders/X
	State         string            `json:"state"`  // ACTIVE, DELETE_REQUESTED
	Labels        map[string]string `json:"labels,omitempty"`
}

// resourceCatalog is the slice of Resource Manager the resolver needs.
type resourceCatalog interface {
	// ListProjects returns ACTIVE projects directly under a parent
	// ("folders/123" or "organizations/456").
	ListProjects(ctx context.Context, parent string) ([]ProjectInfo, error)
	// ListFolders returns the resource names of ACTIVE folders directly
	// under a parent.
	ListFolders(ctx context.Context, parent string) ([]string, error)
	// SearchAllProjects returns every ACTIVE project the caller can see.
	SearchAllProjects(ctx context.Context) ([]ProjectInfo, error)
	// GetProject fetches one project by its project ID.
	GetProject(ctx context.Context, projectID string) (ProjectInfo, error)
}

// Target kinds accepted by ResolveTarget.
const (
	TargetProject       = "project"
	TargetProjects      = "projects"
	TargetFolder        = "folder"
	TargetOrganization  = "organization"
	TargetAllAccessible = "all_accessible"
)

// ResolveTarget expands a (sourceType, sourceID) pair into the project
// set to scan. Unknown source types fail with ErrInvalidScanTarget;
// that is the only error callers should treat as fatal to the scan.
func (s *ProjectService) ResolveTarget(ctx context.Context, sourceType, sourceID string) ([]ProjectInfo, error) {
	switch sourceType {
	case TargetProject, TargetProjects:
		return s.resolveProjectList(ctx, sourceID)
	case TargetFolder:
		return s.listProjectsRecursive(ctx, normalizeParent("folders", sourceID))
	case TargetOrganization:
		return s.listProjectsRecursive(ctx, normalizeParent("organizations", sourceID))
	case TargetAllAccessible:
		return s.catalog.SearchAllProjects(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", gcpinternal.ErrInvalidScanTarget, sourceType)
	}
}

// GetProjectDetails fetches metadata for a single project. It is the
// cheap first call of a project scan and doubles as the access probe.
func (s *ProjectService) GetProjectDetails(ctx context.Context, projectID string) (ProjectInfo, error) {
	return s.catalog.GetProject(ctx, projectID)
}

func (s *ProjectService) resolveProjectList(ctx context.Context, sourceID string) ([]ProjectInfo, error) {
	var projects []ProjectInfo
	seen := make(map[string]bool)
	for _, raw := range strings.Split(sourceID, ",") {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		info, err := s.catalog.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, info)
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("%w: empty project list", gcpinternal.ErrInvalidScanTarget)
	}
	return projects, nil
}

// listProjectsRecursive walks the folder tree under parent breadth
// first. The visited set guards against a folder appearing twice in a
// malformed listing; duplicate project IDs are dropped on sight.
func (s *ProjectService) listProjectsRecursive(ctx context.Context, parent string) ([]ProjectInfo, error) {
	var projects []ProjectInfo
	seenProjects := make(map[string]bool)
	visited := make(map[string]bool)

	queue := []string{parent}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		direct, err := s.catalog.ListProjects(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, p := range direct {
			if seenProjects[p.ProjectID] {
				continue
			}
			seenProjects[p.ProjectID] = true
			projects = append(projects, p)
		}

		folders, err := s.catalog.ListFolders(ctx, current)
		if err != nil {
			return nil, err
		}
		queue = append(queue, folders...)
	}
	return projects, nil
}

func normalizeParent(prefix, id string) string {
	if strings.Contains(id, "/") {
		return id
	}
	return prefix + "/" + id
}

// apiCatalog is the Resource Manager backed catalog.
type apiCatalog struct {
	svc *ProjectService
}

func (c *apiCatalog) ListProjects(ctx context.Context, parent string) ([]ProjectInfo, error) {
	client, err := sdk.GetProjectsClient(ctx, c.svc.session)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.RESOURCE_MANAGER_API)
	}
	defer client.Close()

	var projects []ProjectInfo
	it := client.ListProjects(ctx, &resourcemanagerpb.ListProjectsRequest{Parent: parent})
	for {
		p, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, gcpinternal.ParseGCPError(err, globals.RESOURCE_MANAGER_API)
		}
		if p.State != resourcemanagerpb.Project_ACTIVE {
			continue
		}
		projects = append(projects, projectInfoFromPB(p))
	}
	return projects, nil
}

func (c *apiCatalog) ListFolders(ctx context.Context, parent string) ([]string, error) {
	client, err := sdk.GetFoldersClient(ctx, c.svc.session)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.RESOURCE_MANAGER_API)
	}
	defer client.Close()

	var folders []string
	it := client.ListFolders(ctx, &resourcemanagerpb.ListFoldersRequest{Parent: parent})
	for {
		f, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, gcpinternal.ParseGCPError(err, globals.RESOURCE_MANAGER_API)
		}
		if f.State != resourcemanagerpb.Folder_ACTIVE {
			continue
		}
		folders = append(folders, f.Name)
	}
	return folders, nil
}

func (c *apiCatalog) SearchAllProjects(ctx context.Context) ([]ProjectInfo, error) {
	client, err := sdk.GetProjectsClient(ctx, c.svc.session)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.RESOURCE_MANAGER_API)
	}
	defer client.Close()

	var projects []ProjectInfo
	it := client.SearchProjects(ctx, &resourcemanagerpb.SearchProjectsRequest{Query: "state:ACTIVE"})
	for {
		p, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, gcpinternal.ParseGCPError(err, globals.RESOURCE_MANAGER_API)
		}
		projects = append(projects, projectInfoFromPB(p))
	}
	return projects, nil
}

func (c *apiCatalog) GetProject(ctx context.Context, projectID string) (ProjectInfo, error) {
	client, err := sdk.GetProjectsClient(ctx, c.svc.session)
	if err != nil {
		return ProjectInfo{}, gcpinternal.ParseGCPError(err, globals.RESOURCE_MANAGER_API)
	}
	defer client.Close()

	p, err := client.GetProject(ctx, &resourcemanagerpb.GetProjectRequest{Name: "projects/" + projectID})
	if err != nil {
		return ProjectInfo{}, gcpinternal.ParseGCPError(err, globals.RESOURCE_MANAGER_API)
	}
	return projectInfoFromPB(p), nil
}

func projectInfoFromPB(p *resourcemanagerpb.Project) ProjectInfo {
	return ProjectInfo{
		ProjectID:     p.ProjectId,
		DisplayName:   p.DisplayName,
		ProjectNumber: strings.TrimPrefix(p.Name, "projects/"),
		Parent:        p.Parent,
		State:         p.State.String(),
		Labels:        p.Labels,
	}
}
