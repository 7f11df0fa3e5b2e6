// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

// normalizeNoteSegments splits every PT_NOTE segment that spans more than
// one SHT_NOTE section into one PT_NOTE per section, so the layout engine
// never has to move several sections in lockstep (spec.md §4.5, grounded
// on patchelf.cc's normalizeNoteSegments).
//
// It is a no-op unless a pending edit touches an SHT_NOTE section.
func (e *ElfImage) normalizeNoteSegments() error {
	replacedNote := false
	for name := range e.pendingEdits {
		sh, err := e.FindSection(name)
		if err != nil {
			return err
		}
		if sh.Type == SHT_NOTE {
			replacedNote = true
			break
		}
	}
	if !replacedNote {
		return nil
	}

	var newPhdrs []*ProgramHeader
	for _, ph := range e.PHT {
		if ph.Type != PT_NOTE {
			continue
		}

		startOff := ph.Offset
		endOff := startOff + ph.Filesz
		currOff := startOff

		empty := true
		for _, sh := range e.SHT {
			if sh.Offset >= startOff && sh.Offset < endOff {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		first := true
		for currOff < endOff {
			var size uint64
			for _, sh := range e.SHT {
				if sh.Type != SHT_NOTE {
					continue
				}
				if sh.Offset != roundUp(currOff, sh.AddrAlign) {
					continue
				}
				size = sh.Size
				currOff = roundUp(currOff, sh.AddrAlign)
				break
			}
			if size == 0 {
				return layoutImpossiblef("cannot normalize PT_NOTE segment: non-contiguous SHT_NOTE sections")
			}
			if currOff+size > endOff {
				return layoutImpossiblef("cannot normalize PT_NOTE segment: partially mapped SHT_NOTE section")
			}

			newPhdr := &ProgramHeader{
				Type:   ph.Type,
				Flags:  ph.Flags,
				Offset: currOff,
				VAddr:  ph.VAddr + (currOff - startOff),
				PAddr:  ph.PAddr + (currOff - startOff),
				Filesz: size,
				Memsz:  size,
				Align:  ph.Align,
			}

			if first {
				*ph = *newPhdr
				first = false
			} else {
				newPhdrs = append(newPhdrs, newPhdr)
			}

			currOff += size
		}
	}

	e.PHT = append(e.PHT, newPhdrs...)
	return nil
}

// roundUp rounds off up to the nearest multiple of align. align == 0 is
// treated as no alignment requirement, matching the teacher's roundUp.
func roundUp(off, align uint64) uint64 {
	if align == 0 {
		return off
	}
	return ((off + align - 1) / align) * align
}
