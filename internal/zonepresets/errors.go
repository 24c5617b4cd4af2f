package zonepresets

import "errors"

var ErrTemplate = errors.New("cannot render template")
