package services

import "errors"

var (
	// ErrCatalogRepositoryMissing indicates no catalog backend was wired.
	ErrCatalogRepositoryMissing = errors.New("collection rules: catalog repository is not configured")
	// ErrCollectionRepositoryMissing indicates no collection repository was wired.
	ErrCollectionRepositoryMissing = errors.New("collection rules: collection repository is not configured")
	// ErrCollectionInvalidInput reports missing identifiers.
	ErrCollectionInvalidInput = errors.New("collection rules: invalid input")
	// ErrCollectionNotFound is returned when the collection does not exist for the shop.
	ErrCollectionNotFound = errors.New("collection rules: collection not found")
	// ErrCollectionNotAutomatic is returned when a resync targets a MANUAL collection.
	ErrCollectionNotAutomatic = errors.New("collection rules: collection is not automatic")
	// ErrCollectionRepositoryUnavailable signals the catalog or collection store could not be reached.
	ErrCollectionRepositoryUnavailable = errors.New("collection rules: repository unavailable")
)
