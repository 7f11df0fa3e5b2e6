// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import "github.com/sirupsen/logrus"

// ProgramHeader is the owned, in-memory form of an Elf32_Phdr/Elf64_Phdr
// entry (spec.md §3, "PHT").
type ProgramHeader struct {
	Type   ProgramHeaderType
	Flags  ProgramHeaderFlag
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// SectionHeader is the owned, in-memory form of an Elf32_Shdr/Elf64_Shdr
// entry (spec.md §3, "SHT"). Name is resolved eagerly at open time from
// the section-name string table; NameOffset is kept so it can be
// recomputed verbatim for sections that are never touched.
type SectionHeader struct {
	Name       string
	NameOffset uint32
	Type       SectionHeaderType
	Flags      SectionHeaderFlag
	Addr       uint64
	Offset     uint64
	Size       uint64
	Link       uint32
	Info       uint32
	AddrAlign  uint64
	EntSize    uint64
}

// Symbol is the owned, in-memory form of an Elf32_Sym/Elf64_Sym entry,
// used only by the header rewriter (spec.md §4.7) to translate st_shndx
// after a section-header sort.
type Symbol struct {
	NameOffset uint32
	Type       SymbolType
	Binding    SymbolBinding
	Other      uint8
	Shndx      uint16
	Value      uint64
	Size       uint64
}

// ElfImage is the central entity described in spec.md §3: a mutable byte
// buffer plus parsed, owned copies of the program/section header arrays
// and a pending-edits map, parameterized by word size.
type ElfImage struct {
	// Bytes is the contiguous, growable byte buffer holding the current
	// on-disk image. Owned exclusively by ElfImage (spec.md §9, "shared
	// ownership of Bytes" note) — never aliased by a caller.
	Bytes []byte

	// Width is 32 or 64, chosen at Open from the ELF class byte.
	Width int
	// LittleEndian is derived from the ELF data byte.
	LittleEndian bool

	Type    FileType
	Machine MachineType

	EhSize       uint16
	PhEntSize    uint16
	ShEntSize    uint16
	ShStrNdx     uint16
	PhOff        uint64
	ShOff        uint64

	PHT []*ProgramHeader
	SHT []*SectionHeader

	// oldIndexToName captures, at Open, the section name at every
	// non-null SHT index, so that after a sort the header rewriter can
	// translate an old st_shndx into the section's new index by name
	// (spec.md §3 invariant 7, §4.7).
	oldIndexToName []string

	// pendingEdits maps section name to the bytes that should replace
	// that section's contents at the next Commit (spec.md §3,
	// "Pending edits").
	pendingEdits map[string][]byte

	// Changed is set whenever a mutation occurs.
	Changed bool

	// SectionAlignment is the alignment used for relocated/appended
	// section payloads (spec.md §3): the ELF word alignment, 4 or 8.
	SectionAlignment uint64

	// ForcedPageSize overrides the machine-derived page size table in
	// pagesize.go when nonzero (spec.md §5, §9).
	ForcedPageSize uint64

	// IsExecutable is true iff any program header has type PT_INTERP.
	IsExecutable bool

	// ClobberOldSections overwrites the old bytes of a replaced,
	// non-NOBITS section with 'Z' before writing new content, mirroring
	// patchelf.cc's clobberOldSections debug aid (SPEC_FULL.md §4.3).
	ClobberOldSections bool

	// Logger receives the non-fatal warnings from spec.md §7. Defaults
	// to logrus.StandardLogger() when nil.
	Logger *logrus.Logger
}

func (e *ElfImage) logger() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}
