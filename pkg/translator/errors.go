package translator

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/grafana/rewclient/pkg/protocol"
)

var (
	ErrProtocol           = errors.New("translator: protocol violation")
	ErrPendingHeader      = errors.New("translator: received header still pending")
	ErrInvalidState       = errors.New("translator: operation not valid in current state")
	ErrClosed             = errors.New("translator: session closed")
	ErrHandoffUnsupported = errors.New("translator: transport cannot receive handles")
)

// UnexpectedMessageError is returned when the next header does not carry the
// expected identifier. The header stays pending for the next expectation.
type UnexpectedMessageError struct {
	Want protocol.MsgID
	Got  protocol.Header
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("translator: expected %s, got %s (size %d)", e.Want, e.Got.ID, e.Got.Size)
}

func (e *UnexpectedMessageError) Is(target error) bool {
	return target == ErrProtocol
}

// RemoteError carries a nonzero result code reported by the server.
type RemoteError struct {
	Code int32
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("translator: server reported error %d", e.Code)
}
