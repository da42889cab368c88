package gcpinternal

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ------------------------------
// Common GCP API Error Types
// ------------------------------
var (
	ErrAPINotEnabled    = errors.New("API not enabled")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("resource not found")
	ErrTransient        = errors.New("transient provider error")

	// ErrInvalidScanTarget indicates a caller bug (unknown scan source
	// kind or malformed target id). Unlike every other error in this
	// package it is fatal to a scan and surfaces to the caller.
	ErrInvalidScanTarget = errors.New("invalid scan target")
)

// ParseGCPError converts GCP API errors into cleaner, standardized error
// types. Handles both REST API errors (googleapi.Error) and gRPC errors
// (status.Error) since the resource manager clients speak gRPC while the
// compute clients speak REST.
func ParseGCPError(err error, apiName string) error {
	if err == nil {
		return nil
	}

	if grpcStatus, ok := status.FromError(err); ok && grpcStatus.Code() != codes.Unknown {
		errStr := err.Error()

		switch grpcStatus.Code() {
		case codes.PermissionDenied:
			if strings.Contains(errStr, "SERVICE_DISABLED") {
				return fmt.Errorf("%w: %s", ErrAPINotEnabled, apiName)
			}
			return ErrPermissionDenied
		case codes.NotFound:
			return ErrNotFound
		case codes.Unauthenticated:
			return fmt.Errorf("authentication failed - check credentials")
		case codes.ResourceExhausted:
			return fmt.Errorf("%w: rate limited", ErrTransient)
		case codes.Unavailable, codes.Internal, codes.DeadlineExceeded:
			return fmt.Errorf("%w: %s", ErrTransient, grpcStatus.Message())
		case codes.InvalidArgument:
			return fmt.Errorf("bad request: %s", grpcStatus.Message())
		}

		return fmt.Errorf("gRPC error (%s): %s", grpcStatus.Code().String(), grpcStatus.Message())
	}

	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) {
		errStr := googleErr.Error()

		switch googleErr.Code {
		case 403:
			if strings.Contains(errStr, "SERVICE_DISABLED") {
				return fmt.Errorf("%w: %s", ErrAPINotEnabled, apiName)
			}
			return ErrPermissionDenied
		case 404:
			return ErrNotFound
		case 400:
			return fmt.Errorf("bad request: %s", googleErr.Message)
		case 429:
			return fmt.Errorf("%w: rate limited", ErrTransient)
		case 500, 502, 503, 504:
			return fmt.Errorf("%w: GCP service error (code %d)", ErrTransient, googleErr.Code)
		}

		return fmt.Errorf("API error (code %d): %s", googleErr.Code, googleErr.Message)
	}

	// Fallback: check error string for common patterns
	errStr := err.Error()
	if strings.Contains(errStr, "SERVICE_DISABLED") {
		return fmt.Errorf("%w: %s", ErrAPINotEnabled, apiName)
	}
	if strings.Contains(errStr, "PERMISSION_DENIED") || strings.Contains(errStr, "PermissionDenied") {
		return ErrPermissionDenied
	}

	return err
}

// IsPermissionDenied checks if an error is a permission denied error
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsAPINotEnabled checks if an error is an API not enabled error
func IsAPINotEnabled(err error) bool {
	return errors.Is(err, ErrAPINotEnabled)
}

// IsNotFound checks if an error is a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
