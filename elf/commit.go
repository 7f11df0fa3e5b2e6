// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import (
	"github.com/ThatMG393/patchelf-stripped/internal/layout"
	"github.com/pkg/errors"
)

// Commit serializes every pending edit into Bytes, choosing the library
// or executable layout strategy by e_type (spec.md §4.8,
// patchelf.cc::rewriteSections). It is a no-op if there are no pending
// edits and force is false.
func (e *ElfImage) Commit(force bool) error {
	if !force && len(e.pendingEdits) == 0 {
		return nil
	}

	switch e.Type {
	case ET_DYN:
		return e.rewriteSectionsLibrary()
	case ET_EXEC:
		return e.rewriteSectionsExecutable()
	default:
		return structuralf("unknown ELF type")
	}
}

// sectionPlacement is the layout.Placeable item that a replaced section
// (or, in the library strategy, the relocated PHT/SHT themselves) occupy
// once bump-allocated into a trailing region of the image (spec.md
// §4.6.1/§4.6.2, patchelf.cc::writeReplacedSections).
type sectionPlacement struct {
	offset, size, alignment uint64
}

func (p *sectionPlacement) Offset() uint64     { return p.offset }
func (p *sectionPlacement) SetOffset(o uint64) { p.offset = o }
func (p *sectionPlacement) Size() uint64       { return p.size }
func (p *sectionPlacement) Alignment() uint64  { return p.alignment }

// writeReplacedSections packs every pending edit into a layout.Region
// spanning [regionOffset, regionOffset+regionSize), in SHT order so the
// relative position between several replaced sections is preserved, then
// writes each edit's bytes and updates the written sections' headers and
// any program header that must track them (spec.md §4.6.1/§4.6.2 step
// 7/6, patchelf.cc::writeReplacedSections). It returns the offset one
// past the last section it placed.
func (e *ElfImage) writeReplacedSections(regionOffset, regionSize, startAddr, startOffset uint64) (uint64, error) {
	if e.ClobberOldSections {
		for name := range e.pendingEdits {
			sh, err := e.FindSection(name)
			if err != nil {
				return 0, err
			}
			if sh.Type != SHT_NOBITS {
				for i := sh.Offset; i < sh.Offset+sh.Size; i++ {
					e.Bytes[i] = 'Z'
				}
			}
		}
	}

	region := layout.NewRegion[*sectionPlacement](regionOffset, regionSize)
	notedPhdrs := make(map[int]bool)

	for _, sh := range e.SHT {
		edit, ok := e.pendingEdits[sh.Name]
		if !ok {
			continue
		}

		item := &sectionPlacement{size: uint64(len(edit)), alignment: e.SectionAlignment}
		placed, off := region.Place(item, false)
		if !placed {
			return 0, errors.Errorf("internal error: no room left in trailing region for section %q", sh.Name)
		}

		origOffset := sh.Offset
		origSize := sh.Size
		origAddrAlign := sh.AddrAlign

		copy(e.Bytes[off:off+uint64(len(edit))], edit)

		sh.Offset = off
		sh.Addr = startAddr + (off - startOffset)
		sh.Size = uint64(len(edit))
		sh.AddrAlign = e.SectionAlignment
		if sh.Type == SHT_NOTE && origAddrAlign < e.SectionAlignment {
			sh.AddrAlign = origAddrAlign
		}

		if err := e.syncDependentSegments(sh, origOffset, origSize, notedPhdrs); err != nil {
			return 0, err
		}
	}

	e.pendingEdits = make(map[string][]byte)
	return region.UsedEnd(), nil
}
