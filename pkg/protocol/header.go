package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const HeaderSize = 8

// Header precedes every message: identifier followed by the signed payload
// size.
type Header struct {
	ID   MsgID
	Size int32
}

// Append appends the wire form of h to dst.
func (h Header) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.ID))
	return binary.LittleEndian.AppendUint32(dst, uint32(h.Size))
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, errors.Wrapf(ErrInvalidLength, "header is %d bytes", len(b))
	}
	return Header{
		ID:   MsgID(binary.LittleEndian.Uint32(b[0:4])),
		Size: int32(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}
