// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import "encoding/binary"

// byteOrder returns the accessor used for every multi-byte read and write
// against Bytes. This is the only place the image's recorded endianness is
// consulted (spec.md §4.1) — every other component goes through get16/
// get32/get64/put16/put32/put64 instead of touching binary.ByteOrder
// itself.
func (e *ElfImage) byteOrder() binary.ByteOrder {
	if e.LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ByteOrder exposes the image's accessor endianness to consumers outside
// package elf (e.g. the DT_NEEDED replacer), which need to decode raw
// .dynamic/.gnu.version_r entries that have no dedicated accessor here.
func (e *ElfImage) ByteOrder() binary.ByteOrder {
	return e.byteOrder()
}

func (e *ElfImage) get16(off uint64) uint16 {
	return e.byteOrder().Uint16(e.Bytes[off : off+2])
}

func (e *ElfImage) get32(off uint64) uint32 {
	return e.byteOrder().Uint32(e.Bytes[off : off+4])
}

func (e *ElfImage) get64(off uint64) uint64 {
	return e.byteOrder().Uint64(e.Bytes[off : off+8])
}

// put16/put32/put64 byte-swap on write exactly as get16/get32/get64 do on
// read, unlike patchelf.cc's wri() macro, which assigns host-endian words
// straight into memory shared with the file image. Keeping the write path
// symmetric with the read path closes the cross-endian correctness gap
// spec.md §9 calls out.
func (e *ElfImage) put16(off uint64, v uint16) {
	e.byteOrder().PutUint16(e.Bytes[off:off+2], v)
}

func (e *ElfImage) put32(off uint64, v uint32) {
	e.byteOrder().PutUint32(e.Bytes[off:off+4], v)
}

func (e *ElfImage) put64(off uint64, v uint64) {
	e.byteOrder().PutUint64(e.Bytes[off:off+8], v)
}

// getWord/putWord read and write a "native word" field (program/section
// header members that are 32 bits wide on ELFCLASS32 and 64 bits wide on
// ELFCLASS64: p_offset, p_vaddr, sh_addr, sh_offset, ...).
func (e *ElfImage) getWord(off uint64) uint64 {
	if e.Width == 64 {
		return e.get64(off)
	}
	return uint64(e.get32(off))
}

func (e *ElfImage) putWord(off uint64, v uint64) {
	if e.Width == 64 {
		e.put64(off, v)
	} else {
		e.put32(off, uint32(v))
	}
}

// wordSize is the size in bytes of a native word field, for offset math
// while laying out fixed-width header structs.
func (e *ElfImage) wordSize() uint64 {
	if e.Width == 64 {
		return 8
	}
	return 4
}
