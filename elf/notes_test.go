// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeNoteSegmentsSplitsContiguousNotes covers spec scenario S3:
// a single PT_NOTE covering three SHT_NOTE sections must become three
// PT_NOTE segments, each covering exactly one section.
func TestNormalizeNoteSegmentsSplitsContiguousNotes(t *testing.T) {
	img := &ElfImage{
		Width: 64,
		SHT: []*SectionHeader{
			{Name: ""},
			{Name: "note1", Type: SHT_NOTE, Offset: 0, Size: 8},
			{Name: "note2", Type: SHT_NOTE, Offset: 8, Size: 8},
			{Name: "note3", Type: SHT_NOTE, Offset: 16, Size: 8},
		},
		PHT: []*ProgramHeader{
			{Type: PT_NOTE, Offset: 0, VAddr: 0, PAddr: 0, Filesz: 24, Memsz: 24},
		},
		pendingEdits: map[string][]byte{"note2": {1, 2, 3}},
	}

	require.NoError(t, img.normalizeNoteSegments())

	require.Len(t, img.PHT, 3)
	for i, ph := range img.PHT {
		assert.Equal(t, PT_NOTE, ph.Type)
		assert.Equal(t, uint64(8), ph.Filesz)
		assert.Equal(t, uint64(i*8), ph.Offset)
		assert.Equal(t, uint64(i*8), ph.VAddr, "vaddr must advance with offset within the segment")
	}
}

func TestNormalizeNoteSegmentsNoopWithoutReplacedNote(t *testing.T) {
	img := &ElfImage{
		Width: 64,
		SHT: []*SectionHeader{
			{Name: ""},
			{Name: "note1", Type: SHT_NOTE, Offset: 0, Size: 8},
			{Name: ".text", Type: SHT_PROGBITS, Offset: 8, Size: 8},
		},
		PHT: []*ProgramHeader{
			{Type: PT_NOTE, Offset: 0, Filesz: 8},
		},
		pendingEdits: map[string][]byte{".text": {1}},
	}

	require.NoError(t, img.normalizeNoteSegments())
	assert.Len(t, img.PHT, 1, "no SHT_NOTE section was replaced, so the segment must be left alone")
}

func TestNormalizeNoteSegmentsRejectsNonContiguousNotes(t *testing.T) {
	img := &ElfImage{
		Width: 64,
		SHT: []*SectionHeader{
			{Name: ""},
			{Name: "note1", Type: SHT_NOTE, Offset: 0, Size: 8},
			// gap between offset 8 and 16: note2 starts at 16, not 8.
			{Name: "note2", Type: SHT_NOTE, Offset: 16, Size: 8},
		},
		PHT: []*ProgramHeader{
			{Type: PT_NOTE, Offset: 0, Filesz: 24},
		},
		pendingEdits: map[string][]byte{"note2": {1}},
	}

	err := img.normalizeNoteSegments()
	require.Error(t, err)
	assert.True(t, IsLayoutImpossible(err))
}

func TestRoundUp(t *testing.T) {
	assert.Equal(t, uint64(0), roundUp(0, 8))
	assert.Equal(t, uint64(8), roundUp(1, 8))
	assert.Equal(t, uint64(8), roundUp(8, 8))
	assert.Equal(t, uint64(16), roundUp(9, 8))
	assert.Equal(t, uint64(5), roundUp(5, 0))
}
