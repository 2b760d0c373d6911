package main

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testSymbol struct {
	name  string
	typ   elf.SymType
	value uint64
}

// testFuncs covers a mangled name, a duplicate and an undefined function.
var testFuncs = []testSymbol{
	{name: "fac", typ: elf.STT_FUNC, value: 0x401000},
	{name: "main", typ: elf.STT_FUNC, value: 0x401020},
	{name: "counter", typ: elf.STT_OBJECT, value: 0x402000},
	{name: "_ZN3foo3barEv", typ: elf.STT_FUNC, value: 0x401040},
	{name: "fac", typ: elf.STT_FUNC, value: 0x401060},
	{name: "undef", typ: elf.STT_FUNC},
}

// writeTestELF writes a minimal x86-64 executable whose .symtab holds syms
// and returns its path. Layout: file header, .strtab, .symtab, .shstrtab,
// section header table.
func writeTestELF(t *testing.T, syms []testSymbol) string {
	t.Helper()
	le := binary.LittleEndian

	strtab := []byte{0}
	symtab := make([]byte, 24) // null symbol
	for _, s := range syms {
		sym := make([]byte, 24)
		le.PutUint32(sym[0:], uint32(len(strtab)))
		sym[4] = elf.ST_INFO(elf.STB_GLOBAL, s.typ)
		le.PutUint16(sym[6:], 1)
		le.PutUint64(sym[8:], s.value)
		symtab = append(symtab, sym...)
		strtab = append(append(strtab, s.name...), 0)
	}
	shstrtab := []byte("\x00.strtab\x00.symtab\x00.shstrtab\x00")

	out := make([]byte, 64)
	strtabOff := uint64(len(out))
	out = append(out, strtab...)
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	symtabOff := uint64(len(out))
	out = append(out, symtab...)
	shstrtabOff := uint64(len(out))
	out = append(out, shstrtab...)
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	shoff := uint64(len(out))

	section := func(name uint32, typ elf.SectionType, off, size uint64, link uint32, entsize uint64) []byte {
		sh := make([]byte, 64)
		le.PutUint32(sh[0:], name)
		le.PutUint32(sh[4:], uint32(typ))
		le.PutUint64(sh[24:], off)
		le.PutUint64(sh[32:], size)
		le.PutUint32(sh[40:], link)
		le.PutUint64(sh[56:], entsize)
		return sh
	}
	out = append(out, make([]byte, 64)...)
	out = append(out, section(1, elf.SHT_STRTAB, strtabOff, uint64(len(strtab)), 0, 0)...)
	out = append(out, section(9, elf.SHT_SYMTAB, symtabOff, uint64(len(symtab)), 1, 24)...)
	out = append(out, section(17, elf.SHT_STRTAB, shstrtabOff, uint64(len(shstrtab)), 0, 0)...)

	copy(out, elf.ELFMAG)
	out[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	out[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	out[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(out[16:], uint16(elf.ET_EXEC))
	le.PutUint16(out[18:], uint16(elf.EM_X86_64))
	le.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(out[40:], shoff)
	le.PutUint16(out[52:], 64)
	le.PutUint16(out[58:], 64)
	le.PutUint16(out[60:], 4)
	le.PutUint16(out[62:], 3)

	path := filepath.Join(t.TempDir(), "a.out")
	require.NoError(t, os.WriteFile(path, out, 0o755))
	return path
}

func Test_writeTestELF(t *testing.T) {
	f, err := elf.Open(writeTestELF(t, testFuncs))
	require.NoError(t, err)
	defer f.Close()
	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Len(t, syms, len(testFuncs))
	for i, s := range testFuncs {
		require.Equal(t, s.name, syms[i].Name)
		require.Equal(t, s.value, syms[i].Value)
	}
}
