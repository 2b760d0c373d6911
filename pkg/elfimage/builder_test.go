package elfimage

import (
	"debug/elf"
	"encoding/binary"
)

type testSection struct {
	name string
	typ  elf.SectionType
	data []byte
}

type testImage struct {
	sections  []testSection
	machine   elf.Machine
	shentsize uint16
	// overrides applied to the finished section headers, by index
	patch func(i int, sh []byte)
}

// build lays out: file header, section contents, .shstrtab contents, section
// header table. A null section is prepended and .shstrtab appended.
func (ti testImage) build() []byte {
	le := binary.LittleEndian
	sections := append([]testSection{{}}, ti.sections...)
	sections = append(sections, testSection{name: ".shstrtab", typ: elf.SHT_STRTAB})

	shstrtab := []byte{0}
	nameIdx := make([]uint32, len(sections))
	for i, s := range sections {
		if s.name == "" {
			continue
		}
		nameIdx[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, s.name...)
		shstrtab = append(shstrtab, 0)
	}
	sections[len(sections)-1].data = shstrtab

	out := make([]byte, fileHeaderSize)
	offsets := make([]uint64, len(sections))
	for i, s := range sections {
		offsets[i] = uint64(len(out))
		out = append(out, s.data...)
	}
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	shoff := uint64(len(out))
	for i, s := range sections {
		sh := make([]byte, sectionHeaderSize)
		le.PutUint32(sh[0:], nameIdx[i])
		le.PutUint32(sh[4:], uint32(s.typ))
		le.PutUint64(sh[24:], offsets[i])
		le.PutUint64(sh[32:], uint64(len(s.data)))
		if s.typ == elf.SHT_SYMTAB {
			le.PutUint64(sh[56:], symbolSize)
		}
		if ti.patch != nil {
			ti.patch(i, sh)
		}
		out = append(out, sh...)
	}

	shentsize := ti.shentsize
	if shentsize == 0 {
		shentsize = sectionHeaderSize
	}
	copy(out, elf.ELFMAG)
	out[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	out[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	out[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(out[16:], uint16(elf.ET_EXEC))
	le.PutUint16(out[18:], uint16(ti.machine))
	le.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(out[40:], shoff)
	le.PutUint16(out[52:], fileHeaderSize)
	le.PutUint16(out[58:], shentsize)
	le.PutUint16(out[60:], uint16(len(sections)))
	le.PutUint16(out[62:], uint16(len(sections)-1))
	return out
}

func symtabBytes(syms ...Symbol) []byte {
	le := binary.LittleEndian
	out := make([]byte, 0, len(syms)*symbolSize)
	for _, s := range syms {
		b := make([]byte, symbolSize)
		le.PutUint32(b[0:], s.Name)
		b[4] = s.Info
		b[5] = s.Other
		le.PutUint16(b[6:], s.Section)
		le.PutUint64(b[8:], s.Value)
		le.PutUint64(b[16:], s.Size)
		out = append(out, b...)
	}
	return out
}

func funcInfo() uint8 {
	return elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)
}

// sampleStrings is a .strtab with "fac" at 1 and "main" at 5.
var sampleStrings = []byte("\x00fac\x00main\x00data\x00")

var sampleSymbols = []Symbol{
	{},
	{Name: 1, Info: funcInfo(), Section: 1, Value: 0x401000, Size: 32},
	{Name: 5, Info: funcInfo(), Section: 1, Value: 0x401020, Size: 64},
	{Name: 10, Info: elf.ST_INFO(elf.STB_LOCAL, elf.STT_OBJECT), Section: 2, Value: 0x402000, Size: 8},
	{Name: 1, Info: funcInfo()},
}
