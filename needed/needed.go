// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

// Package needed implements the DT_NEEDED library-name replacer described
// as an example consumer of package elf (spec.md §6), grounded on
// patchelf.cc's replaceNeeded.
package needed

import (
	"github.com/ThatMG393/patchelf-stripped/elf"
	"golang.org/x/sys/unix"
)

// Replace rewrites every DT_NEEDED entry (and, if present, every
// .gnu.version_r file-name entry) whose current string is a key of libs
// to that key's value, then commits the image. It is a no-op if libs is
// empty. Replacement strings that repeat are appended to the target
// string table only once and reused by offset (spec.md §6).
func Replace(img *elf.ElfImage, libs map[string]string) error {
	if len(libs) == 0 {
		return nil
	}

	shdrDynamic, err := img.FindSection(".dynamic")
	if err != nil {
		return err
	}
	shdrDynStr, err := img.FindSection(".dynstr")
	if err != nil {
		return err
	}

	order := img.ByteOrder()
	entSize := uint64(8)
	if img.Width == 64 {
		entSize = 16
	}

	readTag := func(off uint64) elf.DynamicTag {
		if img.Width == 64 {
			return elf.DynamicTag(order.Uint64(img.Bytes[off : off+8]))
		}
		return elf.DynamicTag(int32(order.Uint32(img.Bytes[off : off+4])))
	}
	readVal := func(off uint64) uint64 {
		valOff := off + entSize/2
		if img.Width == 64 {
			return order.Uint64(img.Bytes[valOff : valOff+8])
		}
		return uint64(order.Uint32(img.Bytes[valOff : valOff+4]))
	}
	writeVal := func(off uint64, v uint64) {
		valOff := off + entSize/2
		if img.Width == 64 {
			order.PutUint64(img.Bytes[valOff:valOff+8], v)
		} else {
			order.PutUint32(img.Bytes[valOff:valOff+4], uint32(v))
		}
	}

	var verNeedNum uint64
	dynStrAddedBytes := uint64(0)
	addedStrings := make(map[string]uint64)

	for off := shdrDynamic.Offset; ; off += entSize {
		tag := readTag(off)
		if tag == elf.DT_NULL {
			break
		}
		if tag != elf.DT_NEEDED {
			if tag == elf.DT_VERNEEDNUM {
				verNeedNum = readVal(off)
			}
			continue
		}

		val := readVal(off)
		name := cString(img.Bytes[shdrDynStr.Offset+val:])
		replacement, ok := libs[name]
		if !ok || replacement == name {
			continue
		}

		if existing, ok := addedStrings[replacement]; ok {
			writeVal(off, existing)
			continue
		}

		strOffset := shdrDynStr.Size + dynStrAddedBytes
		buf, err := img.ReplaceSection(".dynstr", strOffset+uint64(len(replacement))+1)
		if err != nil {
			return err
		}
		writeCString(buf, strOffset, replacement)

		writeVal(off, strOffset)
		addedStrings[replacement] = strOffset
		dynStrAddedBytes += uint64(len(replacement)) + 1
	}

	if verNeedNum > 0 {
		if err := replaceVersionNeeded(img, libs, verNeedNum, dynStrAddedBytes, addedStrings); err != nil {
			return err
		}
	}

	return img.Commit(false)
}

// replaceVersionNeeded walks the .gnu.version_r linked list of Elf_Verneed
// records, replacing each vn_file string the same way DT_NEEDED entries
// were replaced (spec.md §6 step 3). Its strings live in the section
// named by .gnu.version_r's sh_link, which is not necessarily .dynstr.
func replaceVersionNeeded(img *elf.ElfImage, libs map[string]string, verNeedNum uint64, dynStrAddedBytes uint64, addedStrings map[string]uint64) error {
	shdrVersionR, err := img.FindSection(".gnu.version_r")
	if err != nil {
		return err
	}
	if int(shdrVersionR.Link) >= len(img.SHT) {
		return nil
	}
	shdrStrings := img.SHT[shdrVersionR.Link]
	stringsSectionName := shdrStrings.Name

	verStrAddedBytes := uint64(0)
	if stringsSectionName == ".dynstr" {
		verStrAddedBytes += dynStrAddedBytes
	} else {
		addedStrings = make(map[string]uint64)
	}

	order := img.ByteOrder()
	need := shdrVersionR.Offset

	for verNeedNum > 0 {
		vnFile := order.Uint32(img.Bytes[need+4 : need+8])
		vnNext := order.Uint32(img.Bytes[need+12 : need+16])

		file := cString(img.Bytes[shdrStrings.Offset+uint64(vnFile):])
		replacement, ok := libs[file]
		if ok && replacement != file {
			if existing, ok := addedStrings[replacement]; ok {
				order.PutUint32(img.Bytes[need+4:need+8], uint32(existing))
			} else {
				strOffset := shdrStrings.Size + verStrAddedBytes
				buf, err := img.ReplaceSection(stringsSectionName, strOffset+uint64(len(replacement))+1)
				if err != nil {
					return err
				}
				writeCString(buf, strOffset, replacement)

				order.PutUint32(img.Bytes[need+4:need+8], uint32(strOffset))
				addedStrings[replacement] = strOffset
				verStrAddedBytes += uint64(len(replacement)) + 1
			}
		}

		need += uint64(vnNext)
		verNeedNum--
	}

	return nil
}

// cString reads a NUL-terminated string starting at the head of b.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// writeCString writes s, NUL-terminated, into buf at pos, using
// unix.ByteSliceFromString for the NUL-termination rather than
// hand-appending a zero byte.
func writeCString(buf []byte, pos uint64, s string) {
	nulTerminated, err := unix.ByteSliceFromString(s)
	if err != nil {
		// s contained an embedded NUL; truncate at it like patchelf.cc's
		// std::string null-byte semantics would not, but a DT_NEEDED name
		// can never legitimately contain one.
		nulTerminated = append([]byte(cString([]byte(s))), 0)
	}
	copy(buf[pos:], nulTerminated)
}
