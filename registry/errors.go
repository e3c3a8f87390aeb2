package registry

import "errors"

// Sentinel errors for organizing and deleting model versions.
// Every error returned by this package wraps exactly one of them;
// use errors.Is to branch on the kind.
var (
	// ErrManifestNotFound indicates the version's manifest file does not exist.
	ErrManifestNotFound = errors.New("manifest not found")

	// ErrManifestParse indicates the manifest is not valid JSON or lacks a
	// usable config digest.
	ErrManifestParse = errors.New("manifest parse error")

	// ErrSourceBlobMissing indicates a referenced blob is absent from the cache.
	ErrSourceBlobMissing = errors.New("source blob missing")

	// ErrDestinationWrite indicates a destination directory or file could not be written.
	ErrDestinationWrite = errors.New("destination write error")

	// ErrVerificationFailed indicates a copied file is absent or does not
	// match its source after the copy returned.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrDeletionFailed indicates a version directory could not be removed.
	ErrDeletionFailed = errors.New("deletion failed")

	// ErrWorkerPanic indicates a worker failed unexpectedly.
	ErrWorkerPanic = errors.New("unexpected worker failure")

	// ErrCancelled indicates the operation was stopped by cancellation.
	ErrCancelled = errors.New("cancelled")
)
