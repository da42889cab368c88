package sdk

import (
	"context"
	"fmt"

	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"cloud.google.com/go/storage"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	compute "google.golang.org/api/compute/v1"
	container "google.golang.org/api/container/v1"
)

// GetComputeService returns a Compute Engine service
func GetComputeService(ctx context.Context, session *gcpinternal.SafeSession) (*compute.Service, error) {
	service, err := compute.NewService(ctx, session.GetClientOption())
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}
	return service, nil
}

// GetContainerService returns a GKE service
func GetContainerService(ctx context.Context, session *gcpinternal.SafeSession) (*container.Service, error) {
	service, err := container.NewService(ctx, session.GetClientOption())
	if err != nil {
		return nil, fmt.Errorf("failed to create container service: %w", err)
	}
	return service, nil
}

// GetStorageClient returns a Cloud Storage client
func GetStorageClient(ctx context.Context, session *gcpinternal.SafeSession) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, session.GetClientOption())
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

// GetProjectsClient returns a Resource Manager projects client
func GetProjectsClient(ctx context.Context, session *gcpinternal.SafeSession) (*resourcemanager.ProjectsClient, error) {
	client, err := resourcemanager.NewProjectsClient(ctx, session.GetClientOption())
	if err != nil {
		return nil, fmt.Errorf("failed to create projects client: %w", err)
	}
	return client, nil
}

// GetFoldersClient returns a Resource Manager folders client
func GetFoldersClient(ctx context.Context, session *gcpinternal.SafeSession) (*resourcemanager.FoldersClient, error) {
	client, err := resourcemanager.NewFoldersClient(ctx, session.GetClientOption())
	if err != nil {
		return nil, fmt.Errorf("failed to create folders client: %w", err)
	}
	return client, nil
}

// CachedGetComputeService returns a compute service, reusing a cached
// instance per credential. The REST clients are safe for concurrent use,
// so one per session is enough.
func CachedGetComputeService(ctx context.Context, session *gcpinternal.SafeSession) (*compute.Service, error) {
	key := CacheKey("compute-service", session.GetCredentialFile())
	if cached, found := GetFromCache(key); found {
		if svc, ok := cached.(*compute.Service); ok {
			return svc, nil
		}
	}

	svc, err := GetComputeService(ctx, session)
	if err != nil {
		return nil, err
	}
	SetInCache(key, svc)
	return svc, nil
}

// CachedGetContainerService returns a GKE service, reusing a cached
// instance per credential.
func CachedGetContainerService(ctx context.Context, session *gcpinternal.SafeSession) (*container.Service, error) {
	key := CacheKey("container-service", session.GetCredentialFile())
	if cached, found := GetFromCache(key); found {
		if svc, ok := cached.(*container.Service); ok {
			return svc, nil
		}
	}

	svc, err := GetContainerService(ctx, session)
	if err != nil {
		return nil, err
	}
	SetInCache(key, svc)
	return svc, nil
}
