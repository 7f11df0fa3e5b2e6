// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestImage() *ElfImage {
	return &ElfImage{
		Width:            64,
		LittleEndian:     true,
		Type:             ET_DYN,
		SectionAlignment: 8,
		pendingEdits:     make(map[string][]byte),
		Bytes:            make([]byte, 64),
		SHT: []*SectionHeader{
			{Name: ""},
			{Name: ".text", Type: SHT_PROGBITS, Offset: 0, Size: 16},
			{Name: ".bss", Type: SHT_NOBITS, Offset: 16, Size: 8},
			{Name: ".dynstr", Type: SHT_STRTAB, Offset: 16, Size: 16},
		},
	}
}

func TestSectionIndexAndFind(t *testing.T) {
	img := newTestImage()

	assert.Equal(t, 1, img.SectionIndex(".text"))
	assert.Equal(t, 0, img.SectionIndex(".missing"))

	sh, err := img.FindSection(".text")
	require.NoError(t, err)
	assert.Equal(t, ".text", sh.Name)

	_, err = img.FindSection(".dynamic")
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
	assert.Contains(t, err.Error(), "most likely statically linked")

	_, err = img.FindSection(".missing")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "most likely statically linked")
}

func TestTryFindSection(t *testing.T) {
	img := newTestImage()
	assert.Nil(t, img.TryFindSection(".missing"))
	assert.NotNil(t, img.TryFindSection(".text"))
}

func TestCanReplaceSection(t *testing.T) {
	img := newTestImage()

	ok, err := img.CanReplaceSection(".text")
	require.NoError(t, err)
	assert.False(t, ok, "PROGBITS sections cannot be moved")

	ok, err = img.CanReplaceSection(".bss")
	require.NoError(t, err)
	assert.True(t, ok, "non-PROGBITS sections can be moved")

	ok, err = img.CanReplaceSection(".dynstr")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplaceSectionStartsFromOriginalBytes(t *testing.T) {
	img := newTestImage()
	img.Bytes[0], img.Bytes[1] = 0xAA, 0xBB

	buf, err := img.ReplaceSection(".text", 4)
	require.NoError(t, err)
	require.Len(t, buf, 4)
	assert.Equal(t, byte(0xAA), buf[0])
	assert.Equal(t, byte(0xBB), buf[1])
	assert.Equal(t, byte(0), buf[2])
	assert.True(t, img.Changed)
	assert.True(t, img.hasReplacedSection(".text"))
}

func TestReplaceSectionTwiceReusesPendingEdit(t *testing.T) {
	img := newTestImage()

	buf, err := img.ReplaceSection(".text", 4)
	require.NoError(t, err)
	buf[3] = 0x42

	buf2, err := img.ReplaceSection(".text", 6)
	require.NoError(t, err)
	require.Len(t, buf2, 6)
	assert.Equal(t, byte(0x42), buf2[3], "growing an existing edit must keep prior edit bytes, not original section bytes")
}

func TestReplaceSectionUnknownNameFails(t *testing.T) {
	img := newTestImage()
	_, err := img.ReplaceSection(".nope", 4)
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
}
