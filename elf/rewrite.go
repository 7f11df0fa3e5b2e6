// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import "sort"

// sortPhdrs stable-sorts PHT by p_offset, mirroring patchelf.cc's
// CompPhdr/sortPhdrs. Index 0's absence of a null entry in PHT (unlike
// SHT) means there is nothing to pin in place.
func (e *ElfImage) sortPhdrs() {
	sort.SliceStable(e.PHT, func(i, j int) bool {
		return e.PHT[i].Offset < e.PHT[j].Offset
	})
}

// sortShdrs stable-sorts SHT[1:] by sh_offset, then restores the sh_link
// and (for SHT_REL/SHT_RELA) sh_info fields by re-resolving the section
// names they pointed to, and restores e.ShStrNdx by matching the
// .shstrtab's original sh_offset (not its name, which may not be unique)
// (spec.md §4.7, patchelf.cc::sortShdrs).
func (e *ElfImage) sortShdrs() {
	linkage := make(map[string]string)
	info := make(map[string]string)
	for i := 1; i < len(e.SHT); i++ {
		sh := e.SHT[i]
		if sh.Link != 0 && int(sh.Link) < len(e.SHT) {
			linkage[sh.Name] = e.SHT[sh.Link].Name
		}
		if sh.Info != 0 && (sh.Type == SHT_REL || sh.Type == SHT_RELA) && int(sh.Info) < len(e.SHT) {
			info[sh.Name] = e.SHT[sh.Info].Name
		}
	}

	shstrtabOffset := e.SHT[e.ShStrNdx].Offset

	rest := e.SHT[1:]
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].Offset < rest[j].Offset
	})

	for i := 1; i < len(e.SHT); i++ {
		sh := e.SHT[i]
		if target, ok := linkage[sh.Name]; ok {
			sh.Link = uint32(e.SectionIndex(target))
		}
		if target, ok := info[sh.Name]; ok {
			sh.Info = uint32(e.SectionIndex(target))
		}
	}

	for i := 1; i < len(e.SHT); i++ {
		if e.SHT[i].Offset == shstrtabOffset {
			e.ShStrNdx = uint16(i)
			break
		}
	}
}

// syncDependentSegments updates the program header whose contents must
// track a just-rewritten section's new offset/address/size, matching
// writeReplacedSections's segment-sync clauses in patchelf.cc. notedPhdrs
// tracks which PT_NOTE entries have already been claimed by an earlier
// SHT_NOTE section, since NOTE segments are normalized to map 1:1 with
// NOTE sections before this runs.
func (e *ElfImage) syncDependentSegments(sh *SectionHeader, origOffset, origSize uint64, notedPhdrs map[int]bool) error {
	switch sh.Name {
	case ".interp":
		for _, ph := range e.PHT {
			if ph.Type == PT_INTERP {
				ph.Offset = sh.Offset
				ph.VAddr = sh.Addr
				ph.PAddr = sh.Addr
				ph.Filesz = sh.Size
				ph.Memsz = sh.Size
			}
		}
	case ".dynamic":
		for _, ph := range e.PHT {
			if ph.Type == PT_DYNAMIC {
				ph.Offset = sh.Offset
				ph.VAddr = sh.Addr
				ph.PAddr = sh.Addr
				ph.Filesz = sh.Size
				ph.Memsz = sh.Size
			}
		}
	case ".MIPS.abiflags":
		for _, ph := range e.PHT {
			if ph.Type == PT_MIPS_ABIFLAGS {
				ph.Offset = sh.Offset
				ph.VAddr = sh.Addr
				ph.PAddr = sh.Addr
				ph.Filesz = sh.Size
				ph.Memsz = sh.Size
			}
		}
	case ".note.gnu.property":
		for _, ph := range e.PHT {
			if ph.Type == PT_GNU_PROPERTY {
				ph.Offset = sh.Offset
				ph.VAddr = sh.Addr
				ph.PAddr = sh.Addr
				ph.Filesz = sh.Size
				ph.Memsz = sh.Size
			}
		}
	}

	if sh.Type == SHT_NOTE {
		sStart := origOffset
		sEnd := origOffset + origSize
		for j, ph := range e.PHT {
			if ph.Type != PT_NOTE || notedPhdrs[j] {
				continue
			}
			pStart := ph.Offset
			pEnd := pStart + ph.Filesz

			overlaps := (sStart >= pStart && sStart < pEnd) || (sEnd > pStart && sEnd <= pEnd)
			if !overlaps {
				continue
			}
			if pStart != sStart || pEnd != sEnd {
				return layoutImpossiblef("unsupported overlap of SHT_NOTE and PT_NOTE")
			}

			ph.Offset = sh.Offset
			ph.VAddr = sh.Addr
			ph.PAddr = sh.Addr
			ph.Filesz = sh.Size
			ph.Memsz = sh.Size
			notedPhdrs[j] = true
		}
	}

	return nil
}

// rewriteHeaders re-emits PHT and SHT (after re-sorting, unless an
// unsorted pass-through is ever needed — always sorted here, per spec.md
// §4.7), fixes up .dynamic's address-bearing tags, and fixes up every
// SHT_SYMTAB/SHT_DYNSYM entry's st_shndx (and, for STT_SECTION symbols,
// st_value) to the post-sort section index (spec.md §4.7, patchelf.cc::
// rewriteHeaders).
func (e *ElfImage) rewriteHeaders(phdrAddress uint64) error {
	for _, ph := range e.PHT {
		if ph.Type == PT_PHDR {
			ph.Offset = e.PhOff
			ph.VAddr = phdrAddress
			ph.PAddr = phdrAddress
			size := uint64(len(e.PHT)) * e.phdrSize()
			ph.Filesz = size
			ph.Memsz = size
			break
		}
	}

	e.sortPhdrs()
	for i, ph := range e.PHT {
		e.writeProgramHeader(e.PhOff+uint64(i)*e.phdrSize(), ph)
	}

	e.sortShdrs()
	for i := 1; i < len(e.SHT); i++ {
		e.writeSectionHeader(e.ShOff+uint64(i)*e.shdrSize(), e.SHT[i])
	}

	// Point the ELF header at the rewritten tables.
	if e.Width == 64 {
		e.put64(32, e.PhOff)
		e.put64(40, e.ShOff)
		e.put16(56, uint16(len(e.PHT)))
		e.put16(60, uint16(len(e.SHT)))
		e.put16(62, e.ShStrNdx)
	} else {
		e.put32(28, uint32(e.PhOff))
		e.put32(32, uint32(e.ShOff))
		e.put16(44, uint16(len(e.PHT)))
		e.put16(48, uint16(len(e.SHT)))
		e.put16(50, e.ShStrNdx)
	}

	if err := e.fixDynamicTags(); err != nil {
		return err
	}
	e.fixSymbolTables()

	return nil
}

// fixDynamicTags rewrites every address-bearing .dynamic entry to point
// at its target section's (possibly moved) sh_addr (spec.md §4.7 table).
func (e *ElfImage) fixDynamicTags() error {
	shdrDynamic := e.TryFindSection(".dynamic")
	if shdrDynamic == nil {
		return nil
	}

	entSize := uint64(8)
	if e.Width == 64 {
		entSize = 16
	}

	base := shdrDynamic.Offset
	for off := base; ; off += entSize {
		var tag DynamicTag
		var valOff uint64
		if e.Width == 64 {
			tag = DynamicTag(e.get64(off))
			valOff = off + 8
		} else {
			tag = DynamicTag(int32(e.get32(off)))
			valOff = off + 4
		}
		if tag == DT_NULL {
			break
		}

		setPtr := func(addr uint64) {
			if e.Width == 64 {
				e.put64(valOff, addr)
			} else {
				e.put32(valOff, uint32(addr))
			}
		}

		switch tag {
		case DT_STRTAB:
			sh, err := e.FindSection(".dynstr")
			if err != nil {
				return err
			}
			setPtr(sh.Addr)
		case DT_STRSZ:
			sh, err := e.FindSection(".dynstr")
			if err != nil {
				return err
			}
			setPtr(sh.Size)
		case DT_SYMTAB:
			sh, err := e.FindSection(".dynsym")
			if err != nil {
				return err
			}
			setPtr(sh.Addr)
		case DT_HASH:
			sh, err := e.FindSection(".hash")
			if err != nil {
				return err
			}
			setPtr(sh.Addr)
		case DT_GNU_HASH:
			if sh := e.TryFindSection(".gnu.hash"); sh != nil {
				setPtr(sh.Addr)
			}
		case DT_MIPS_XHASH:
			sh, err := e.FindSection(".MIPS.xhash")
			if err != nil {
				return err
			}
			setPtr(sh.Addr)
		case DT_JMPREL:
			sh := e.TryFindSection(".rel.plt")
			if sh == nil {
				sh = e.TryFindSection(".rela.plt")
			}
			if sh == nil {
				sh = e.TryFindSection(".rela.IA_64.pltoff")
			}
			if sh == nil {
				return preconditionf("cannot find section corresponding to DT_JMPREL")
			}
			setPtr(sh.Addr)
		case DT_REL:
			sh := e.TryFindSection(".rel.dyn")
			if sh == nil {
				sh = e.TryFindSection(".rel.got")
			}
			if sh != nil {
				setPtr(sh.Addr)
			}
		case DT_RELA:
			if sh := e.TryFindSection(".rela.dyn"); sh != nil {
				setPtr(sh.Addr)
			}
		case DT_VERNEED:
			sh, err := e.FindSection(".gnu.version_r")
			if err != nil {
				return err
			}
			setPtr(sh.Addr)
		case DT_VERSYM:
			sh, err := e.FindSection(".gnu.version")
			if err != nil {
				return err
			}
			setPtr(sh.Addr)
		case DT_MIPS_RLD_MAP_REL:
			if sh := e.TryFindSection(".rld_map"); sh != nil {
				dynOffset := off - base
				setPtr(sh.Addr - dynOffset - shdrDynamic.Addr)
			} else {
				e.logger().Warnf("DT_MIPS_RLD_MAP_REL entry is present, but .rld_map section is not")
				setPtr(0)
			}
		}
	}

	return nil
}

// fixSymbolTables remaps st_shndx (and, for STT_SECTION symbols,
// st_value) in every SHT_SYMTAB/SHT_DYNSYM section from the pre-sort
// section index captured at open to the post-sort index.
func (e *ElfImage) fixSymbolTables() {
	for _, sh := range e.SHT {
		if sh.Type != SHT_SYMTAB && sh.Type != SHT_DYNSYM {
			continue
		}
		count := sh.Size / e.symSize()
		for entry := uint64(0); entry < count; entry++ {
			off := sh.Offset + entry*e.symSize()
			sym := e.readSymbol(off)
			shndx := uint64(sym.Shndx)
			if shndx == SHN_UNDEF || shndx >= SHN_LORESERVE {
				continue
			}
			if shndx >= uint64(len(e.oldIndexToName)) {
				e.logger().Warnf("entry %d in symbol table refers to a non-existent section, skipping", entry)
				continue
			}
			name := e.oldIndexToName[shndx]
			if name == "" {
				continue
			}
			newIndex := e.SectionIndex(name)
			rewriteValue := sym.Type == STT_SECTION
			var newValue uint64
			if rewriteValue {
				newValue = e.SHT[newIndex].Addr
			}
			e.writeSymbolShndxAndValue(off, uint16(newIndex), newValue, rewriteValue)
		}
	}
}
