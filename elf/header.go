// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

const (
	ehSize32 = 52
	ehSize64 = 64

	phdrSize32 = 32
	phdrSize64 = 56

	shdrSize32 = 40
	shdrSize64 = 64
)

// Open parses b as an ELF image (spec.md §4.2). b is copied into the
// returned ElfImage's Bytes, which the image then owns exclusively.
func Open(b []byte) (*ElfImage, error) {
	if len(b) < 16 {
		return nil, structuralf("missing ELF header")
	}
	if b[0] != 0x7F || b[1] != 'E' || b[2] != 'L' || b[3] != 'F' {
		return nil, structuralf("not an ELF executable")
	}
	class := FileClass(b[4])
	if class != ELFCLASS32 && class != ELFCLASS64 {
		return nil, structuralf("unsupported ELF class: %d", class)
	}
	data := FileEndian(b[5])
	if data != ELFDATA2LSB && data != ELFDATA2MSB {
		return nil, structuralf("unsupported ELF data encoding: %d", data)
	}
	if b[6] != 1 {
		return nil, structuralf("unsupported ELF version: %d", b[6])
	}

	e := &ElfImage{
		Bytes:        append([]byte(nil), b...),
		Width:        32,
		LittleEndian: data == ELFDATA2LSB,
		pendingEdits: make(map[string][]byte),
	}
	if class == ELFCLASS64 {
		e.Width = 64
		e.SectionAlignment = 8
	} else {
		e.SectionAlignment = 4
	}

	ehSize := ehSize32
	if e.Width == 64 {
		ehSize = ehSize64
	}
	if len(e.Bytes) < ehSize {
		return nil, structuralf("missing ELF header")
	}

	e.Type = FileType(e.get16(16))
	e.Machine = MachineType(e.get16(18))
	if e.Type != ET_EXEC && e.Type != ET_DYN {
		return nil, structuralf("wrong ELF type: %d", e.Type)
	}

	var entry uint64
	var off uint64 = 24
	if e.Width == 64 {
		entry = e.get64(off)
		off += 8
		e.PhOff = e.get64(off)
		off += 8
		e.ShOff = e.get64(off)
		off += 8
	} else {
		entry = uint64(e.get32(off))
		off += 4
		e.PhOff = uint64(e.get32(off))
		off += 4
		e.ShOff = uint64(e.get32(off))
		off += 4
	}
	_ = entry
	off += 4 // e_flags
	e.EhSize = e.get16(off)
	off += 2
	e.PhEntSize = e.get16(off)
	off += 2
	phNum := e.get16(off)
	off += 2
	e.ShEntSize = e.get16(off)
	off += 2
	shNum := e.get16(off)
	off += 2
	e.ShStrNdx = e.get16(off)

	wantPhdrSize := uint16(phdrSize32)
	wantShdrSize := uint16(shdrSize32)
	if e.Width == 64 {
		wantPhdrSize = phdrSize64
		wantShdrSize = shdrSize64
	}

	phSize, ok := checkedMul(uint64(phNum), uint64(e.PhEntSize))
	if !ok {
		return nil, structuralf("program header table out of bounds")
	}
	phEnd, ok := checkedAdd(e.PhOff, phSize)
	if !ok || phEnd > uint64(len(e.Bytes)) {
		return nil, structuralf("program header table out of bounds")
	}
	if e.PhEntSize != wantPhdrSize {
		return nil, structuralf("program headers have wrong size: %d", e.PhEntSize)
	}

	if shNum == 0 {
		return nil, structuralf("no section headers")
	}
	shSize, ok := checkedMul(uint64(shNum), uint64(e.ShEntSize))
	if !ok {
		return nil, structuralf("section header table out of bounds")
	}
	shEnd, ok := checkedAdd(e.ShOff, shSize)
	if !ok || shEnd > uint64(len(e.Bytes)) {
		return nil, structuralf("section header table out of bounds")
	}
	if e.ShEntSize != wantShdrSize {
		return nil, structuralf("section headers have wrong size: %d", e.ShEntSize)
	}

	for i := 0; i < int(phNum); i++ {
		ph, err := e.readProgramHeader(e.PhOff + uint64(i)*uint64(e.PhEntSize))
		if err != nil {
			return nil, err
		}
		if ph.Type == PT_INTERP {
			e.IsExecutable = true
		}
		e.PHT = append(e.PHT, ph)
	}

	for i := 0; i < int(shNum); i++ {
		sh, err := e.readSectionHeader(e.ShOff + uint64(i)*uint64(e.ShEntSize))
		if err != nil {
			return nil, err
		}
		e.SHT = append(e.SHT, sh)
	}

	if int(e.ShStrNdx) >= len(e.SHT) {
		return nil, structuralf("string table index out of bounds")
	}
	shstrtab := e.SHT[e.ShStrNdx]
	if shstrtab.Size == 0 {
		return nil, structuralf("string table size is zero")
	}
	strEnd, ok := checkedAdd(shstrtab.Offset, shstrtab.Size)
	if !ok || strEnd > uint64(len(e.Bytes)) {
		return nil, structuralf("string table out of bounds")
	}
	if e.Bytes[shstrtab.Offset+shstrtab.Size-1] != 0 {
		return nil, structuralf("string table is not zero terminated")
	}

	e.oldIndexToName = make([]string, len(e.SHT))
	for i, sh := range e.SHT {
		if i == 0 {
			continue
		}
		name, err := e.stringAt(shstrtab.Offset, uint64(sh.NameOffset))
		if err != nil {
			return nil, err
		}
		sh.Name = name
		e.oldIndexToName[i] = name
	}

	return e, nil
}

// stringAt reads a NUL-terminated string starting at base+offset.
func (e *ElfImage) stringAt(base, offset uint64) (string, error) {
	start := base + offset
	if start >= uint64(len(e.Bytes)) {
		return "", structuralf("section name offset out of bounds")
	}
	end := start
	for end < uint64(len(e.Bytes)) && e.Bytes[end] != 0 {
		end++
	}
	if end >= uint64(len(e.Bytes)) {
		return "", structuralf("string table is not zero terminated")
	}
	return string(e.Bytes[start:end]), nil
}
