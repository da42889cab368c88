package projectservice

import (
	"context"
	"errors"
	"testing"

	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
)

type fakeCatalog struct {
	// parent -> direct children
	projects map[string][]ProjectInfo
	folders  map[string][]string
	all      []ProjectInfo
	byID     map[string]ProjectInfo

	listProjectCalls []string
}

func (f *fakeCatalog) ListProjects(_ context.Context, parent string) ([]ProjectInfo, error) {
	f.listProjectCalls = append(f.listProjectCalls, parent)
	return f.projects[parent], nil
}

func (f *fakeCatalog) ListFolders(_ context.Context, parent string) ([]string, error) {
	return f.folders[parent], nil
}

func (f *fakeCatalog) SearchAllProjects(_ context.Context) ([]ProjectInfo, error) {
	return f.all, nil
}

func (f *fakeCatalog) GetProject(_ context.Context, projectID string) (ProjectInfo, error) {
	if p, ok := f.byID[projectID]; ok {
		return p, nil
	}
	return ProjectInfo{}, gcpinternal.ErrNotFound
}

func projectIDs(projects []ProjectInfo) []string {
	ids := make([]string, len(projects))
	for i, p := range projects {
		ids[i] = p.ProjectID
	}
	return ids
}

func TestResolveTargetFolderRecursion(t *testing.T) {
	catalog := &fakeCatalog{
		projects: map[string][]ProjectInfo{
			"folders/100": {{ProjectID: "top-app"}},
			"folders/110": {{ProjectID: "child-app"}, {ProjectID: "child-db"}},
			"folders/120": {{ProjectID: "grandchild-app"}},
		},
		folders: map[string][]string{
			"folders/100": {"folders/110"},
			"folders/110": {"folders/120"},
		},
	}
	svc := NewWithCatalog(catalog)

	got, err := svc.ResolveTarget(context.Background(), TargetFolder, "100")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}

	want := map[string]bool{"top-app": true, "child-app": true, "child-db": true, "grandchild-app": true}
	if len(got) != len(want) {
		t.Fatalf("got %d projects (%v), want %d", len(got), projectIDs(got), len(want))
	}
	for _, p := range got {
		if !want[p.ProjectID] {
			t.Errorf("unexpected project %s", p.ProjectID)
		}
	}
}

func TestResolveTargetFolderCycleTerminates(t *testing.T) {
	catalog := &fakeCatalog{
		projects: map[string][]ProjectInfo{
			"folders/1": {{ProjectID: "only"}},
		},
		folders: map[string][]string{
			"folders/1": {"folders/2"},
			"folders/2": {"folders/1"}, // malformed listing loops back
		},
	}
	svc := NewWithCatalog(catalog)

	got, err := svc.ResolveTarget(context.Background(), TargetFolder, "folders/1")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if len(got) != 1 || got[0].ProjectID != "only" {
		t.Fatalf("got %v, want [only]", projectIDs(got))
	}
	// Each folder listed exactly once.
	if len(catalog.listProjectCalls) != 2 {
		t.Errorf("ListProjects called %d times (%v), want 2", len(catalog.listProjectCalls), catalog.listProjectCalls)
	}
}

func TestResolveTargetCommaList(t *testing.T) {
	catalog := &fakeCatalog{
		byID: map[string]ProjectInfo{
			"alpha": {ProjectID: "alpha"},
			"beta":  {ProjectID: "beta"},
		},
	}
	svc := NewWithCatalog(catalog)

	got, err := svc.ResolveTarget(context.Background(), TargetProjects, " alpha, beta,alpha ")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want alpha and beta once each", projectIDs(got))
	}
}

func TestResolveTargetUnknownKind(t *testing.T) {
	svc := NewWithCatalog(&fakeCatalog{})
	_, err := svc.ResolveTarget(context.Background(), "subscription", "x")
	if !errors.Is(err, gcpinternal.ErrInvalidScanTarget) {
		t.Fatalf("err = %v, want ErrInvalidScanTarget", err)
	}
}

func TestResolveTargetAllAccessible(t *testing.T) {
	catalog := &fakeCatalog{all: []ProjectInfo{{ProjectID: "a"}, {ProjectID: "b"}}}
	svc := NewWithCatalog(catalog)

	got, err := svc.ResolveTarget(context.Background(), TargetAllAccessible, "")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 projects", projectIDs(got))
	}
}
