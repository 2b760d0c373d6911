// Package elfimage maps an ELF64 executable read-only and exposes its
// section, symbol and string tables.
//
// The file header is read as-is. A table that does not fit the image is
// reported empty instead of failing the load. Validate checks the
// identification bytes separately.
package elfimage

import (
	"bytes"
	"debug/elf"

	"github.com/pkg/errors"
)

var (
	ErrTruncated   = errors.New("elfimage: image shorter than the file header")
	ErrOutOfRange  = errors.New("elfimage: range outside the image")
	ErrReleased    = errors.New("elfimage: image released")
	ErrUnsupported = errors.New("elfimage: unsupported image")
)

// Image is an immutable view of an executable. It is safe to share between
// sessions; Release must be called once, after every user is done.
type Image struct {
	data    []byte
	release func([]byte) error

	header   FileHeader
	sections []SectionHeader
	shstrtab []byte
	symbols  []Symbol
	strtab   []byte
}

// Parse interprets data as an ELF64 image. data is referenced, not copied,
// and must not be modified while the image is in use.
func Parse(data []byte) (*Image, error) {
	return parse(data, nil)
}

func parse(data []byte, release func([]byte) error) (*Image, error) {
	if len(data) < fileHeaderSize {
		return nil, errors.Wrapf(ErrTruncated, "%d bytes", len(data))
	}
	img := &Image{
		data:    data,
		release: release,
		header:  decodeFileHeader(data),
	}
	img.sections = img.loadSections()
	img.shstrtab = img.loadSectionNames()
	img.symbols = img.loadSymbols()
	img.strtab = img.loadStrings()
	return img, nil
}

func (img *Image) loadSections() []SectionHeader {
	h := &img.header
	if h.Shentsize != sectionHeaderSize {
		return []SectionHeader{}
	}
	table, ok := img.span(h.Shoff, uint64(h.Shnum)*sectionHeaderSize)
	if !ok {
		return []SectionHeader{}
	}
	sections := make([]SectionHeader, h.Shnum)
	for i := range sections {
		sections[i] = decodeSectionHeader(table[i*sectionHeaderSize:])
	}
	return sections
}

func (img *Image) loadSectionNames() []byte {
	idx := int(img.header.Shstrndx)
	if idx >= len(img.sections) {
		return []byte{}
	}
	return img.sectionData(img.sections[idx])
}

func (img *Image) loadSymbols() []Symbol {
	s, ok := img.Section(".symtab")
	if !ok {
		return []Symbol{}
	}
	data := img.sectionData(s)
	symbols := make([]Symbol, len(data)/symbolSize)
	for i := range symbols {
		symbols[i] = decodeSymbol(data[i*symbolSize:])
	}
	return symbols
}

func (img *Image) loadStrings() []byte {
	s, ok := img.Section(".strtab")
	if !ok {
		return []byte{}
	}
	return img.sectionData(s)
}

// span returns data[off:off+size] if the whole range lies within the image.
func (img *Image) span(off, size uint64) ([]byte, bool) {
	n := uint64(len(img.data))
	if off > n || size > n-off {
		return nil, false
	}
	return img.data[off : off+size], true
}

func (img *Image) sectionData(s SectionHeader) []byte {
	if s.Type == elf.SHT_NOBITS {
		return []byte{}
	}
	data, ok := img.span(s.Offset, s.Size)
	if !ok {
		return []byte{}
	}
	return data
}

// Header returns the file header as found at offset 0.
func (img *Image) Header() FileHeader { return img.header }

// Machine is the architecture the image was built for.
func (img *Image) Machine() elf.Machine { return img.header.Machine }

// Sections returns the section header table; empty if the declared entry
// size is not the ELF64 one or the table does not fit the image.
func (img *Image) Sections() []SectionHeader { return img.sections }

// SectionNames returns the section-name string table.
func (img *Image) SectionNames() []byte { return img.shstrtab }

// Symbols returns the entries of the first .symtab section.
func (img *Image) Symbols() []Symbol { return img.symbols }

// Strings returns the contents of the first .strtab section.
func (img *Image) Strings() []byte { return img.strtab }

// Bytes returns the whole image. The slice is read-only.
func (img *Image) Bytes() []byte { return img.data }

func (img *Image) Len() int { return len(img.data) }

// Section returns the first section called name.
func (img *Image) Section(name string) (SectionHeader, bool) {
	for _, s := range img.sections {
		if img.SectionName(s) == name {
			return s, true
		}
	}
	return SectionHeader{}, false
}

// SectionData returns the bytes backing s, or an empty slice if they are not
// part of the image.
func (img *Image) SectionData(s SectionHeader) []byte {
	return img.sectionData(s)
}

func (img *Image) SectionName(s SectionHeader) string {
	return cstring(img.shstrtab, s.Name)
}

func (img *Image) SymbolName(s Symbol) string {
	return cstring(img.strtab, s.Name)
}

// FunctionSymbols returns the STT_FUNC symbols with a nonzero value, in
// table order.
func (img *Image) FunctionSymbols() []Symbol {
	var res []Symbol
	for _, s := range img.symbols {
		if s.Type() == elf.STT_FUNC && s.Value != 0 {
			res = append(res, s)
		}
	}
	return res
}

// ReadAt copies len(p) bytes starting at image offset off. The range is
// checked before anything is copied: a read that does not fit copies nothing.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	if img.data == nil {
		return 0, ErrReleased
	}
	if off < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "offset %d", off)
	}
	src, ok := img.span(uint64(off), uint64(len(p)))
	if !ok {
		return 0, errors.Wrapf(ErrOutOfRange, "[%#x, +%#x) in %#x bytes", off, len(p), len(img.data))
	}
	return copy(p, src), nil
}

// Validate checks the identification bytes: ELF magic, 64-bit class,
// little-endian data and the current version.
func (img *Image) Validate() error {
	id := img.header.Ident
	switch {
	case !bytes.Equal(id[:elf.EI_CLASS], []byte(elf.ELFMAG)):
		return errors.Wrap(ErrUnsupported, "bad magic")
	case elf.Class(id[elf.EI_CLASS]) != elf.ELFCLASS64:
		return errors.Wrapf(ErrUnsupported, "class %s", elf.Class(id[elf.EI_CLASS]))
	case elf.Data(id[elf.EI_DATA]) != elf.ELFDATA2LSB:
		return errors.Wrapf(ErrUnsupported, "data encoding %s", elf.Data(id[elf.EI_DATA]))
	case elf.Version(id[elf.EI_VERSION]) != elf.EV_CURRENT:
		return errors.Wrapf(ErrUnsupported, "version %s", elf.Version(id[elf.EI_VERSION]))
	}
	return nil
}

// Release unmaps the image. The image must not be used afterwards; a second
// call returns ErrReleased.
func (img *Image) Release() error {
	if img.data == nil {
		return ErrReleased
	}
	data, release := img.data, img.release
	*img = Image{}
	if release == nil {
		return nil
	}
	return errors.Wrap(release(data), "elfimage: unmap")
}

func cstring(table []byte, idx uint32) string {
	if uint64(idx) >= uint64(len(table)) {
		return ""
	}
	s := table[idx:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}
