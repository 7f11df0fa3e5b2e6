// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

// SectionIndex resolves a section name to its index in SHT, or 0 (the
// null-section sentinel) when absent, mirroring patchelf.cc's
// getSectionIndex (spec.md §4.3).
func (e *ElfImage) SectionIndex(name string) int {
	for i := 1; i < len(e.SHT); i++ {
		if e.SHT[i].Name == name {
			return i
		}
	}
	return 0
}

// FindSection resolves name to its SectionHeader, failing with the
// "most likely statically linked" hint for the three sections that imply
// dynamic linking if missing (spec.md §4.3).
func (e *ElfImage) FindSection(name string) (*SectionHeader, error) {
	if i := e.SectionIndex(name); i != 0 {
		return e.SHT[i], nil
	}
	hint := ""
	switch name {
	case ".interp", ".dynamic", ".dynstr":
		hint = ". most likely statically linked"
	}
	return nil, preconditionf("cannot find section '%s'%s", name, hint)
}

// TryFindSection is FindSection without the fatal error: it returns nil
// when the section is absent (used by the header rewriter's .dynamic tag
// fixups, several of which are optional, spec.md §4.7).
func (e *ElfImage) TryFindSection(name string) *SectionHeader {
	if i := e.SectionIndex(name); i != 0 {
		return e.SHT[i]
	}
	return nil
}

// CanReplaceSection reports whether a section may be moved in virtual
// address space. Only .interp, and sections whose type isn't SHT_PROGBITS,
// qualify (spec.md §4.4): PROGBITS sections hold code or read-only data
// that absolute references may point into.
func (e *ElfImage) CanReplaceSection(name string) (bool, error) {
	sh, err := e.FindSection(name)
	if err != nil {
		return false, err
	}
	return name == ".interp" || sh.Type != SHT_PROGBITS, nil
}

// hasReplacedSection reports whether name already has a pending edit.
func (e *ElfImage) hasReplacedSection(name string) bool {
	_, ok := e.pendingEdits[name]
	return ok
}

// ReplaceSection accumulates an edit against a section, per spec.md §4.4.
// If an edit already exists for name, it is resized in place (zero
// extended on growth, truncated on shrink); otherwise the edit starts from
// the section's current on-disk bytes. The returned slice aliases the
// pending edit and is safe to mutate further before Commit.
func (e *ElfImage) ReplaceSection(name string, size uint64) ([]byte, error) {
	var base []byte
	if existing, ok := e.pendingEdits[name]; ok {
		base = existing
	} else {
		sh, err := e.FindSection(name)
		if err != nil {
			return nil, err
		}
		base = append([]byte(nil), e.Bytes[sh.Offset:sh.Offset+sh.Size]...)
	}

	resized := make([]byte, size)
	copy(resized, base)
	e.pendingEdits[name] = resized
	e.Changed = true
	return resized, nil
}
