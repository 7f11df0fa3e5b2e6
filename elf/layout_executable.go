// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import "github.com/pkg/errors"

// rewriteSectionsExecutable implements the ET_EXEC layout strategy
// (spec.md §4.6.2, patchelf.cc::rewriteSectionsExecutable): the header
// region at the start of the file is grown in place, sliding later pages
// forward via the shift primitive when it doesn't already have room.
func (e *ElfImage) rewriteSectionsExecutable() error {
	e.sortShdrs()

	lastReplaced := 0
	for i := 1; i < len(e.SHT); i++ {
		if e.hasReplacedSection(e.SHT[i].Name) {
			lastReplaced = i
		}
	}
	if lastReplaced == 0 {
		return errors.Errorf("internal error: executable layout invoked with no replaced section")
	}
	if lastReplaced+1 >= len(e.SHT) {
		return layoutImpossiblef("last replaced section has nothing mapped after it")
	}

	startOffset := e.SHT[lastReplaced+1].Offset
	startAddr := e.SHT[lastReplaced+1].Addr
	prevSection := ""

	for i := 1; i <= lastReplaced; i++ {
		sh := e.SHT[i]
		// Why this stops after a .dynstr section specifically is lost to
		// history; patchelf.cc carries the same unexplained rule.
		if (sh.Type == SHT_PROGBITS && sh.Name != ".interp") || prevSection == ".dynstr" {
			startOffset = sh.Offset
			startAddr = sh.Addr
			lastReplaced = i - 1
			break
		}
		if !e.hasReplacedSection(sh.Name) {
			if _, err := e.ReplaceSection(sh.Name, sh.Size); err != nil {
				return err
			}
		}
		prevSection = sh.Name
	}

	pageSize := e.pageSize()
	if startAddr%pageSize != startOffset%pageSize {
		return errors.Errorf("section address/offset page alignment mismatch")
	}
	firstPage := startAddr - startOffset

	if e.ShOff < startOffset {
		shoffNew := uint64(len(e.Bytes))
		shSize := uint64(len(e.SHT)) * e.shdrSize()
		grown := make([]byte, uint64(len(e.Bytes))+shSize)
		copy(grown, e.Bytes)
		e.Bytes = grown
		e.ShOff = shoffNew

		e.sortShdrs()
		for i := 1; i < len(e.SHT); i++ {
			e.writeSectionHeader(e.ShOff+uint64(i)*e.shdrSize(), e.SHT[i])
		}
	}

	if err := e.normalizeNoteSegments(); err != nil {
		return err
	}

	ehSize := uint64(ehSize32)
	if e.Width == 64 {
		ehSize = ehSize64
	}
	neededSpace := ehSize + uint64(len(e.PHT))*e.phdrSize()
	for _, edit := range e.pendingEdits {
		neededSpace += roundUp(uint64(len(edit)), e.SectionAlignment)
	}

	if neededSpace > startOffset {
		neededSpace += e.phdrSize()

		extraSpace := neededSpace - startOffset
		neededPages := 1 + roundUp(extraSpace, pageSize)/pageSize
		if neededPages*pageSize > firstPage {
			return layoutImpossiblef("virtual address space underrun")
		}

		if err := e.shiftFile(neededPages, startOffset, extraSpace); err != nil {
			return err
		}

		firstPage -= neededPages * pageSize
		startOffset += neededPages * pageSize
	}

	headerEnd := ehSize + uint64(len(e.PHT))*e.phdrSize()

	for _, ph := range e.PHT {
		if ph.Type == PT_LOAD && ph.Offset <= headerEnd && ph.Offset+ph.Filesz > headerEnd && ph.Filesz < neededSpace {
			ph.Filesz = neededSpace
			ph.Memsz = neededSpace
			break
		}
	}

	for i := headerEnd; i < startOffset; i++ {
		e.Bytes[i] = 0
	}

	if _, err := e.writeReplacedSections(headerEnd, neededSpace-headerEnd, firstPage, 0); err != nil {
		return err
	}

	return e.rewriteHeaders(firstPage + e.PhOff)
}
