package protocol

import "github.com/pkg/errors"

var ErrInvalidLength = errors.New("protocol: invalid length")
