// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

// shiftFile inserts extraPages*pageSize zero bytes at startOffset, pushing
// everything after it forward, and splits the one PT_LOAD segment that
// straddles startOffset: the original entry keeps the part from startOffset
// on (now past the inserted pages), and a new R+W PT_LOAD maps the part
// before startOffset plus the first extraBytes of the inserted space
// (spec.md §4.6.3, grounded on patchelf.cc::shiftFile).
func (e *ElfImage) shiftFile(extraPages uint64, startOffset uint64, extraBytes uint64) error {
	pageSize := e.pageSize()
	shift := extraPages * pageSize

	oldSize := uint64(len(e.Bytes))
	grown := make([]byte, oldSize+shift)
	copy(grown, e.Bytes[:startOffset])
	copy(grown[startOffset+shift:], e.Bytes[startOffset:])
	e.Bytes = grown

	ehSize := uint64(ehSize32)
	if e.Width == 64 {
		ehSize = ehSize64
	}
	e.PhOff = ehSize
	if e.ShOff >= startOffset {
		e.ShOff += shift
	}

	for _, sh := range e.SHT {
		if sh.Offset >= startOffset {
			sh.Offset += shift
		}
	}

	splitIndex := -1
	var splitShift uint64

	for i, ph := range e.PHT {
		pStart := ph.Offset

		if pStart <= startOffset && pStart+ph.Filesz > startOffset && ph.Type == PT_LOAD {
			if splitIndex != -1 {
				return layoutImpossiblef("more than one PT_LOAD straddles the shift point")
			}
			splitIndex = i
			splitShift = startOffset - pStart

			ph.Offset = startOffset
			ph.Memsz -= splitShift
			ph.Filesz -= splitShift
			ph.PAddr += splitShift
			ph.VAddr += splitShift

			pStart = startOffset
		}

		if pStart >= startOffset {
			ph.Offset = pStart + shift
			if ph.Align != 0 && (ph.VAddr-ph.Offset)%ph.Align != 0 {
				ph.Align = pageSize
			}
		} else {
			if ph.PAddr >= shift {
				ph.PAddr -= shift
			}
			if ph.VAddr >= shift {
				ph.VAddr -= shift
			}
		}
	}

	if splitIndex == -1 {
		return layoutImpossiblef("no PT_LOAD segment straddles the shift point")
	}

	split := e.PHT[splitIndex]
	newPhdr := &ProgramHeader{
		Type:   PT_LOAD,
		Offset: split.Offset - splitShift - shift,
		PAddr:  split.PAddr - splitShift - shift,
		VAddr:  split.VAddr - splitShift - shift,
		Filesz: splitShift + extraBytes,
		Memsz:  splitShift + extraBytes,
		Flags:  PF_R | PF_W,
		Align:  pageSize,
	}
	e.PHT = append(e.PHT, newPhdr)

	return nil
}
