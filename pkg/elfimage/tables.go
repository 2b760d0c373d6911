package elfimage

import (
	"debug/elf"
	"encoding/binary"
)

const (
	fileHeaderSize    = 64
	sectionHeaderSize = 64
	symbolSize        = 24
)

// FileHeader is the ELF64 file header found at offset 0 of the image.
type FileHeader struct {
	Ident     [elf.EI_NIDENT]byte
	Type      elf.Type
	Machine   elf.Machine
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// SectionHeader is one entry of the section header table. Name is an index
// into the section-name string table.
type SectionHeader struct {
	Name      uint32
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// Symbol is one .symtab entry. Name is an index into the .strtab section.
type Symbol struct {
	Name    uint32
	Info    uint8
	Other   uint8
	Section uint16
	Value   uint64
	Size    uint64
}

func (s Symbol) Type() elf.SymType { return elf.ST_TYPE(s.Info) }
func (s Symbol) Bind() elf.SymBind { return elf.ST_BIND(s.Info) }

func decodeFileHeader(b []byte) FileHeader {
	le := binary.LittleEndian
	var h FileHeader
	copy(h.Ident[:], b[:elf.EI_NIDENT])
	h.Type = elf.Type(le.Uint16(b[16:]))
	h.Machine = elf.Machine(le.Uint16(b[18:]))
	h.Version = le.Uint32(b[20:])
	h.Entry = le.Uint64(b[24:])
	h.Phoff = le.Uint64(b[32:])
	h.Shoff = le.Uint64(b[40:])
	h.Flags = le.Uint32(b[48:])
	h.Ehsize = le.Uint16(b[52:])
	h.Phentsize = le.Uint16(b[54:])
	h.Phnum = le.Uint16(b[56:])
	h.Shentsize = le.Uint16(b[58:])
	h.Shnum = le.Uint16(b[60:])
	h.Shstrndx = le.Uint16(b[62:])
	return h
}

func decodeSectionHeader(b []byte) SectionHeader {
	le := binary.LittleEndian
	return SectionHeader{
		Name:      le.Uint32(b[0:]),
		Type:      elf.SectionType(le.Uint32(b[4:])),
		Flags:     elf.SectionFlag(le.Uint64(b[8:])),
		Addr:      le.Uint64(b[16:]),
		Offset:    le.Uint64(b[24:]),
		Size:      le.Uint64(b[32:]),
		Link:      le.Uint32(b[40:]),
		Info:      le.Uint32(b[44:]),
		Addralign: le.Uint64(b[48:]),
		Entsize:   le.Uint64(b[56:]),
	}
}

func decodeSymbol(b []byte) Symbol {
	le := binary.LittleEndian
	return Symbol{
		Name:    le.Uint32(b[0:]),
		Info:    b[4],
		Other:   b[5],
		Section: le.Uint16(b[6:]),
		Value:   le.Uint64(b[8:]),
		Size:    le.Uint64(b[16:]),
	}
}
