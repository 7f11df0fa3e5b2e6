// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import (
	"github.com/ThatMG393/patchelf-stripped/internal/layout"
	"github.com/pkg/errors"
)

// rewriteSectionsLibrary implements the ET_DYN layout strategy (spec.md
// §4.6.1, patchelf.cc::rewriteSectionsLibrary): every replaced section is
// appended at the end of the file, covered by a new or extended PT_LOAD.
func (e *ElfImage) rewriteSectionsLibrary() error {
	var startPage uint64
	var firstPage uint64
	alignStartPage := e.pageSize()

	for _, ph := range e.PHT {
		thisPage := ph.VAddr + ph.Memsz
		if thisPage > startPage {
			startPage = thisPage
		}
		if ph.Type == PT_PHDR {
			firstPage = ph.VAddr - ph.Offset
		}
		if ph.Align > alignStartPage {
			alignStartPage = ph.Align
		}
	}

	startPage = roundUp(startPage, alignStartPage)

	numNotes := 0
	for _, sh := range e.SHT {
		if sh.Type == SHT_NOTE {
			numNotes++
		}
	}

	ehSize := uint64(ehSize32)
	if e.Width == 64 {
		ehSize = ehSize64
	}
	phtSize := roundUp(uint64(len(e.PHT)+numNotes+1)*e.phdrSize()+ehSize, e.SectionAlignment)
	shtSize := roundUp(uint64(len(e.SHT))*e.shdrSize(), e.SectionAlignment)

	relocatePht := false
	for i := 1; i < len(e.SHT); i++ {
		if e.SHT[i].Offset > phtSize {
			continue
		}
		name := e.SHT[i].Name
		if !e.hasReplacedSection(name) {
			canReplace, err := e.CanReplaceSection(name)
			if err != nil {
				return err
			}
			if !canReplace {
				relocatePht = true
				break
			}
		}
	}

	if !relocatePht {
		for i := 1; i < len(e.SHT); i++ {
			if e.SHT[i].Offset > phtSize {
				continue
			}
			name := e.SHT[i].Name
			if !e.hasReplacedSection(name) {
				if _, err := e.ReplaceSection(name, e.SHT[i].Size); err != nil {
					return err
				}
			}
		}
	}

	neededSpace := shtSize
	if relocatePht {
		neededSpace += phtSize
	}
	for _, edit := range e.pendingEdits {
		neededSpace += roundUp(uint64(len(edit)), e.SectionAlignment)
	}

	startOffset := roundUp(uint64(len(e.Bytes)), alignStartPage)

	const binutilsQuirkPadding = 1
	grown := make([]byte, startOffset+neededSpace+binutilsQuirkPadding)
	copy(grown, e.Bytes)
	e.Bytes = grown

	lastSegAddr := uint64(0)
	if len(e.PHT) > 0 {
		last := e.PHT[len(e.PHT)-1]
		if last.Type == PT_LOAD && last.Flags == PF_R|PF_W && last.Align == alignStartPage {
			segEnd := roundUp(last.Offset+last.Memsz, alignStartPage)
			if segEnd == startOffset {
				newSz := startOffset + neededSpace - last.Offset
				last.Filesz = newSz
				last.Memsz = newSz
				lastSegAddr = last.VAddr + newSz - neededSpace
			}
		}
	}

	if lastSegAddr == 0 {
		e.PHT = append(e.PHT, &ProgramHeader{
			Type:   PT_LOAD,
			Offset: startOffset,
			VAddr:  startPage,
			PAddr:  startPage,
			Filesz: neededSpace,
			Memsz:  neededSpace,
			Flags:  PF_R | PF_W,
			Align:  alignStartPage,
		})
		if startPage%alignStartPage != startOffset%alignStartPage {
			return errors.Errorf("PT_LOAD alignment invariant violated for new trailing segment")
		}
		lastSegAddr = startPage
	}

	if err := e.normalizeNoteSegments(); err != nil {
		return err
	}

	// The relocated PHT, the relocated SHT, and every replaced section's
	// bytes all land in the same trailing region appended at end-of-file
	// (spec.md §4.6.1); layout.Region is the bump allocator adapted from
	// the teacher's relocation.Region for exactly this packing problem.
	headerRegion := layout.NewRegion[*sectionPlacement](startOffset, neededSpace)
	if relocatePht {
		phtItem := &sectionPlacement{size: phtSize, alignment: e.SectionAlignment}
		placed, off := headerRegion.Place(phtItem, false)
		if !placed {
			return errors.Errorf("internal error: no room for relocated program header table")
		}
		e.PhOff = off
	}

	shtItem := &sectionPlacement{size: shtSize, alignment: e.SectionAlignment}
	placed, off := headerRegion.Place(shtItem, false)
	if !placed {
		return errors.Errorf("internal error: no room for relocated section header table")
	}
	e.ShOff = off

	sectionsOffset := headerRegion.UsedEnd()
	if _, err := e.writeReplacedSections(sectionsOffset, startOffset+neededSpace-sectionsOffset, lastSegAddr, startOffset); err != nil {
		return err
	}

	if relocatePht {
		return e.rewriteHeaders(lastSegAddr)
	}
	return e.rewriteHeaders(firstPage + e.PhOff)
}
