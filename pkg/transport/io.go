package transport

import (
	"io"

	"github.com/pkg/errors"
)

// ErrShortTransfer is returned when the stream ends, or stops making
// progress, before a full message has been moved.
var ErrShortTransfer = errors.New("transport: short transfer")

// ReadFull reads exactly len(buf) bytes from r. A read that returns no data
// and no error before buf is full is treated as end of stream. The byte
// count is only returned on full success.
func ReadFull(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if total == len(buf) {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, errors.Wrapf(ErrShortTransfer, "read %d of %d bytes", total, len(buf))
			}
			return 0, errors.Wrap(err, "transport read")
		}
		if n == 0 {
			return 0, errors.Wrapf(ErrShortTransfer, "read %d of %d bytes", total, len(buf))
		}
	}
	return total, nil
}

// WriteFull writes all of buf to w, with the same zero-progress rule as
// ReadFull.
func WriteFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if total == len(buf) {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, "transport write")
		}
		if n == 0 {
			return 0, errors.Wrapf(ErrShortTransfer, "wrote %d of %d bytes", total, len(buf))
		}
	}
	return total, nil
}
