// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

// pageSize returns the memory page size assumed for this image's machine
// (spec.md §6), or ForcedPageSize when the caller has overridden it.
func (e *ElfImage) pageSize() uint64 {
	if e.ForcedPageSize != 0 {
		return e.ForcedPageSize
	}
	switch e.Machine {
	case EM_ALPHA, EM_IA_64, EM_MIPS, EM_PPC, EM_PPC64, EM_AARCH64, EM_TILEGX, EM_LOONGARCH:
		return 0x10000
	case EM_SPARC, EM_SPARCV9:
		return 0x2000
	default:
		return 0x1000
	}
}
