package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	MemRequestSize = 16

	// MaxChunk bounds how many bytes a single memory request is served with,
	// whatever size the server asks for.
	MaxChunk = 4096
)

// MemRequest is the S_MEMREQ payload: a byte range of the image.
type MemRequest struct {
	Addr uint64
	Size uint64
}

// Clamped returns the number of bytes the request is served with.
func (r MemRequest) Clamped() uint64 {
	return min(r.Size, MaxChunk)
}

func (r MemRequest) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, r.Addr)
	return binary.LittleEndian.AppendUint64(dst, r.Size)
}

func DecodeMemRequest(b []byte) (MemRequest, error) {
	if len(b) != MemRequestSize {
		return MemRequest{}, errors.Wrapf(ErrInvalidLength, "memory request is %d bytes", len(b))
	}
	return MemRequest{
		Addr: binary.LittleEndian.Uint64(b[0:8]),
		Size: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}
