package manifest

import "errors"

var (
	ErrLoadingManifest = errors.New("unable to load manifest from disk")
	ErrSavingManifest  = errors.New("unable to save manifest to disk")
)
