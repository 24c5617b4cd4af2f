package cli

import "errors"

var (
	ErrVerify  = errors.New("image verification failed")
	ErrCompare = errors.New("binaries differ")
)
