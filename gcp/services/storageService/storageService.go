package storageservice

import (
	"context"

	"cloud.google.com/go/iam"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/globals"
	"github.com/sz9751210/gcp-network-tool/internal"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/gcp/sdk"
)

// Cloud Storage buckets
// gcloud storage buckets list

type StorageService struct {
	session *gcpinternal.SafeSession
	logger  internal.Logger
}

// New creates a new StorageService (legacy - uses ADC directly)
func New() *StorageService {
	return &StorageService{logger: internal.NewLogger()}
}

// NewWithSession creates a StorageService with a SafeSession for managed authentication
func NewWithSession(session *gcpinternal.SafeSession) *StorageService {
	return &StorageService{session: session, logger: internal.NewLogger()}
}

func (ss *StorageService) getClient(ctx context.Context) (*storage.Client, error) {
	if ss.session != nil {
		return sdk.GetStorageClient(ctx, ss.session)
	}
	return storage.NewClient(ctx)
}

// Buckets lists a project's buckets with their exposure classified.
// The IAM policy read is a separate permission from bucket listing, so
// a policy fetch failure degrades that bucket to unknown exposure
// instead of failing the listing.
func (ss *StorageService) Buckets(ctx context.Context, projectID string) ([]models.GCSBucket, error) {
	client, err := ss.getClient(ctx)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.STORAGE_API)
	}
	defer client.Close()

	var buckets []models.GCSBucket
	it := client.Buckets(ctx, projectID)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, gcpinternal.ParseGCPError(err, globals.STORAGE_API)
		}

		bucket := models.GCSBucket{
			Name:              attrs.Name,
			ProjectID:         projectID,
			Location:          attrs.Location,
			StorageClass:      attrs.StorageClass,
			CreationTime:      attrs.Created,
			Labels:            attrs.Labels,
			VersioningEnabled: attrs.VersioningEnabled,
			PublicAccess:      ss.publicAccess(ctx, client, attrs.Name),
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

func (ss *StorageService) publicAccess(ctx context.Context, client *storage.Client, bucketName string) models.PublicAccess {
	policy, err := client.Bucket(bucketName).IAM().Policy(ctx)
	if err != nil {
		ss.logger.ErrorMf(globals.GCP_BUCKETS_MODULE_NAME, "iam policy for bucket %s: %v", bucketName, err)
		return models.AccessUnknown
	}
	return ClassifyMembers(policyMembers(policy))
}

func policyMembers(policy *iam.Policy) []string {
	var members []string
	for _, role := range policy.Roles() {
		members = append(members, policy.Members(role)...)
	}
	return members
}

// ClassifyMembers reports public when any binding grants access to the
// anonymous or all-authenticated principals.
func ClassifyMembers(members []string) models.PublicAccess {
	for _, m := range members {
		if m == "allUsers" || m == "allAuthenticatedUsers" {
			return models.AccessPublic
		}
	}
	return models.AccessPrivate
}
