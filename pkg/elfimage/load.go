package elfimage

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// ErrResource is matched by every failure to open, stat or map the file.
var ErrResource = errors.New("elfimage: resource error")

// ResourceError describes a failed open, stat or map.
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("elfimage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func (e *ResourceError) Is(target error) bool { return target == ErrResource }

// mapFile and unmapFile are set on platforms with mmap. Elsewhere the file
// is read into memory.
var (
	mapFile   func(fd int, length int) ([]byte, error)
	unmapFile func([]byte) error
)

// Load maps the file at path read-only and parses it. Either a complete
// image is returned or nothing stays mapped.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ResourceError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &ResourceError{Op: "stat", Path: path, Err: err}
	}
	size := fi.Size()
	if size < fileHeaderSize {
		return nil, errors.Wrapf(ErrTruncated, "%s is %d bytes", path, size)
	}
	if size > math.MaxInt {
		return nil, &ResourceError{Op: "map", Path: path, Err: errors.Errorf("file too large: %d bytes", size)}
	}

	if mapFile == nil {
		data := make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, &ResourceError{Op: "read", Path: path, Err: err}
		}
		return parse(data, nil)
	}

	data, err := mapFile(int(f.Fd()), int(size))
	if err != nil {
		return nil, &ResourceError{Op: "map", Path: path, Err: err}
	}
	img, err := parse(data, unmapFile)
	if err != nil {
		_ = unmapFile(data)
		return nil, err
	}
	return img, nil
}
