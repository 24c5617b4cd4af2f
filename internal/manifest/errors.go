package manifest

import "errors"

var (
	ErrInvalidRecipe     = errors.New("invalid recipe")
	ErrUnsupportedFormat = errors.New("unsupported recipe format")
	ErrLoad              = errors.New("failed to load recipe")
)
