package inspect

import "errors"

var (
	ErrArchive      = errors.New("invalid image archive")
	ErrBlobNotFound = errors.New("blob not found in archive")
	ErrNotFound     = errors.New("path not found in image")
)
