// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalExec assembles a tiny, structurally valid little-endian
// ELF64 ET_EXEC image: one PT_LOAD covering the whole file at a nonzero
// load bias, a PT_PHDR, a PT_INTERP covering a replaceable .interp
// section, a dummy .text, and a .shstrtab. The load bias leaves virtual
// address space below the first mapped page, the way a real executable's
// link-time base address does, so growing the header region never
// underruns (spec.md §4.6.2/§4.6.3).
func buildMinimalExec(interp string) []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
		shdrSize = 64
		loadBias = 0x400000
	)

	interpBytes := append([]byte(interp), 0)
	interpOff := uint64(ehdrSize + 3*phdrSize)
	interpSize := uint64(len(interpBytes))
	textOff := roundUp(interpOff+interpSize, 8)
	textSize := uint64(16)
	shstrtabOff := textOff + textSize
	shstrtabContent := append([]byte{0}, []byte(".shstrtab\x00.interp\x00.text\x00")...)
	shstrtabSize := uint64(len(shstrtabContent))
	shoff := roundUp(shstrtabOff+shstrtabSize, 8)
	const shnum = 4
	fileSz := shoff + shnum*shdrSize

	nameShstrtab := uint32(1)
	nameInterp := nameShstrtab + uint32(len(".shstrtab\x00"))
	nameText := nameInterp + uint32(len(".interp\x00"))

	b := make([]byte, fileSz)
	le := binary.LittleEndian

	copy(b[0:4], []byte{0x7F, 'E', 'L', 'F'})
	b[4] = byte(ELFCLASS64)
	b[5] = byte(ELFDATA2LSB)
	b[6] = 1

	le.PutUint16(b[16:18], uint16(ET_EXEC))
	le.PutUint16(b[18:20], uint16(EM_X86_64))
	le.PutUint32(b[20:24], 1)
	le.PutUint64(b[24:32], loadBias)
	le.PutUint64(b[32:40], ehdrSize)
	le.PutUint64(b[40:48], shoff)
	le.PutUint32(b[48:52], 0)
	le.PutUint16(b[52:54], ehdrSize)
	le.PutUint16(b[54:56], phdrSize)
	le.PutUint16(b[56:58], 3)
	le.PutUint16(b[58:60], shdrSize)
	le.PutUint16(b[60:62], shnum)
	le.PutUint16(b[62:64], 3)

	writePhdr(le, b[64:64+phdrSize], uint32(PT_LOAD), uint32(PF_R|PF_W|PF_X), 0, loadBias, loadBias, fileSz, fileSz, 0x1000)
	writePhdr(le, b[64+phdrSize:64+2*phdrSize], uint32(PT_PHDR), uint32(PF_R), 64, loadBias+64, loadBias+64, 3*phdrSize, 3*phdrSize, 8)
	writePhdr(le, b[64+2*phdrSize:64+3*phdrSize], uint32(PT_INTERP), uint32(PF_R), interpOff, loadBias+interpOff, loadBias+interpOff, interpSize, interpSize, 1)

	copy(b[interpOff:], interpBytes)
	copy(b[shstrtabOff:], shstrtabContent)

	writeShdr(le, b[shoff:shoff+shdrSize], 0, 0, 0, 0, 0, 0, 0, 0, 0)
	writeShdr(le, b[shoff+shdrSize:shoff+2*shdrSize], nameInterp, uint32(SHT_PROGBITS), uint64(SHF_ALLOC), loadBias+interpOff, interpOff, interpSize, 0, 0, 1)
	writeShdr(le, b[shoff+2*shdrSize:shoff+3*shdrSize], nameText, uint32(SHT_PROGBITS), uint64(SHF_ALLOC|SHF_EXECINSTR), loadBias+textOff, textOff, textSize, 0, 0, 4)
	writeShdr(le, b[shoff+3*shdrSize:shoff+4*shdrSize], nameShstrtab, uint32(SHT_STRTAB), 0, 0, shstrtabOff, shstrtabSize, 0, 0, 1)

	return b
}

func assertLoadableAlignmentInvariant(t *testing.T, img *ElfImage) {
	for _, ph := range img.PHT {
		if ph.Type != PT_LOAD || ph.Align == 0 {
			continue
		}
		assert.Equal(t, ph.VAddr%ph.Align, ph.Offset%ph.Align, "PT_LOAD %+v violates the vaddr/offset congruence invariant", ph)
	}
}

func findProgramHeader(img *ElfImage, typ ProgramHeaderType) *ProgramHeader {
	for _, ph := range img.PHT {
		if ph.Type == typ {
			return ph
		}
	}
	return nil
}

// TestExecutableInterpReplaceFitsWithoutShift covers spec scenario S2 in
// the case where the new .interp fits in the existing header slack, so
// rewriteSectionsExecutable never needs the shift primitive.
func TestExecutableInterpReplaceFitsWithoutShift(t *testing.T) {
	img, err := Open(buildMinimalExec("/lib64/ld-linux-x86-64.so.2"))
	require.NoError(t, err)
	origFileLen := len(img.Bytes)

	newInterp := append([]byte("/lib/ld.so"), 0)
	buf, err := img.ReplaceSection(".interp", uint64(len(newInterp)))
	require.NoError(t, err)
	copy(buf, newInterp)

	require.NoError(t, img.Commit(false))
	assert.Equal(t, origFileLen, len(img.Bytes), "a same-region fit must not grow the file")

	assertLoadableAlignmentInvariant(t, img)

	sh, err := img.FindSection(".interp")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(newInterp)), sh.Size)
	assert.Equal(t, string(newInterp), string(img.Bytes[sh.Offset:sh.Offset+sh.Size]))

	ph := findProgramHeader(img, PT_INTERP)
	require.NotNil(t, ph)
	assert.Equal(t, sh.Offset, ph.Offset)
	assert.Equal(t, sh.Addr, ph.VAddr)
	assert.Equal(t, sh.Size, ph.Filesz)
	assert.Equal(t, sh.Size, ph.Memsz)
}

// TestExecutableInterpReplaceForcesShift covers spec scenario S2 in the
// case where the new .interp is too long to fit in the existing header
// region, forcing rewriteSectionsExecutable to call shiftFile and split
// the covering PT_LOAD.
func TestExecutableInterpReplaceForcesShift(t *testing.T) {
	img, err := Open(buildMinimalExec("/lib64/ld-linux-x86-64.so.2"))
	require.NoError(t, err)
	origPhdrCount := len(img.PHT)
	origFileLen := len(img.Bytes)

	newInterp := append([]byte("/an/unusually/long/dynamic/linker/path/chosen/to/overflow/the/original/header/slack/ld.so"), 0)
	buf, err := img.ReplaceSection(".interp", uint64(len(newInterp)))
	require.NoError(t, err)
	copy(buf, newInterp)

	require.NoError(t, img.Commit(false))
	assert.Greater(t, len(img.Bytes), origFileLen, "growing past the header slack must shift the file")
	assert.Greater(t, len(img.PHT), origPhdrCount, "shiftFile must append a new PT_LOAD for the inserted gap")

	assertLoadableAlignmentInvariant(t, img)

	straddling := 0
	for _, ph := range img.PHT {
		if ph.Type != PT_LOAD {
			continue
		}
		assert.LessOrEqual(t, ph.Offset+ph.Filesz, uint64(len(img.Bytes)))
		straddling++
	}
	assert.GreaterOrEqual(t, straddling, 2, "the split must leave at least the header and tail PT_LOAD segments")

	sh, err := img.FindSection(".interp")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(newInterp)), sh.Size)
	assert.Equal(t, string(newInterp), string(img.Bytes[sh.Offset:sh.Offset+sh.Size]))

	ph := findProgramHeader(img, PT_INTERP)
	require.NotNil(t, ph)
	assert.Equal(t, sh.Offset, ph.Offset)
	assert.Equal(t, sh.Addr, ph.VAddr)
	assert.Equal(t, sh.Size, ph.Filesz)
}
