package gcpinternal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// CommonScopes defines the OAuth scopes requested for scanning
var CommonScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/cloud-platform.read-only",
	"https://www.googleapis.com/auth/compute.readonly",
	"https://www.googleapis.com/auth/devstorage.read_only",
}

// SafeSession provides thread-safe GCP authentication with token caching.
// Every scanner receives its credentials through one of these; a session
// is built either from Application Default Credentials or from an
// uploaded service-account key file selected through the credential
// registry.
type SafeSession struct {
	mu            sync.Mutex
	tokenSource   oauth2.TokenSource
	currentToken  *oauth2.Token
	tokens        map[string]*oauth2.Token // scope -> token
	sessionExpiry time.Time

	credentialFile string
	projectID      string
}

// NewSafeSession initializes a session using Application Default Credentials.
func NewSafeSession(ctx context.Context) (*SafeSession, error) {
	creds, err := google.FindDefaultCredentials(ctx, CommonScopes...)
	if err != nil {
		return nil, fmt.Errorf("no usable GCP credentials; run 'gcloud auth application-default login' or upload a service account key: %w", err)
	}
	return newSessionFromTokenSource(creds.TokenSource, creds.ProjectID, "")
}

// NewSessionFromKeyFile initializes a session from a service-account key
// file, such as one managed by the credential registry.
func NewSessionFromKeyFile(ctx context.Context, path string, keyJSON []byte) (*SafeSession, error) {
	creds, err := google.CredentialsFromJSON(ctx, keyJSON, CommonScopes...)
	if err != nil {
		return nil, fmt.Errorf("invalid service account key %s: %w", path, err)
	}
	return newSessionFromTokenSource(creds.TokenSource, creds.ProjectID, path)
}

func newSessionFromTokenSource(ts oauth2.TokenSource, projectID, credFile string) (*SafeSession, error) {
	ss := &SafeSession{
		tokenSource:    ts,
		tokens:         make(map[string]*oauth2.Token),
		credentialFile: credFile,
		projectID:      projectID,
	}

	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get initial token: %w", err)
	}
	ss.currentToken = token
	ss.sessionExpiry = token.Expiry
	ss.tokens["https://www.googleapis.com/auth/cloud-platform"] = token

	return ss, nil
}

// GetToken returns a valid access token, refreshing if necessary.
func (s *SafeSession) GetToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentToken != nil && s.currentToken.Valid() {
		return s.currentToken.AccessToken, nil
	}

	token, err := s.tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	s.currentToken = token
	s.sessionExpiry = token.Expiry
	return token.AccessToken, nil
}

// GetTokenSource returns the underlying token source for use with GCP clients.
func (s *SafeSession) GetTokenSource() oauth2.TokenSource {
	return s.tokenSource
}

// GetClientOption returns a client option for use with GCP API clients.
func (s *SafeSession) GetClientOption() option.ClientOption {
	return option.WithTokenSource(s.tokenSource)
}

// GetProjectID returns the credential's default project ID, if known.
func (s *SafeSession) GetProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// GetCredentialFile returns the key file path backing this session, or
// empty for Application Default Credentials.
func (s *SafeSession) GetCredentialFile() string {
	return s.credentialFile
}

// GetSessionExpiry returns when the current token expires.
func (s *SafeSession) GetSessionExpiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionExpiry
}
