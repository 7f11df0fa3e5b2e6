// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

import "github.com/pkg/errors"

// Error kinds per spec.md §7. All are fatal and unwind to the caller with
// a human-readable message; there is no recovery path inside the engine.

type structuralError struct{ msg string }

func (e *structuralError) Error() string { return e.msg }

func structuralf(format string, args ...interface{}) error {
	return &structuralError{msg: errors.Errorf(format, args...).Error()}
}

// IsStructural reports whether err is a structural error (bad magic,
// unsupported class, wrong type, header table out of bounds, a malformed
// string table, or checked-arithmetic overflow).
func IsStructural(err error) bool {
	_, ok := err.(*structuralError)
	return ok
}

type preconditionError struct{ msg string }

func (e *preconditionError) Error() string { return e.msg }

func preconditionf(format string, args ...interface{}) error {
	return &preconditionError{msg: errors.Errorf(format, args...).Error()}
}

// IsPrecondition reports whether err is a precondition error (a required
// section or DT_JMPREL target is missing).
func IsPrecondition(err error) bool {
	_, ok := err.(*preconditionError)
	return ok
}

type layoutImpossibleError struct{ msg string }

func (e *layoutImpossibleError) Error() string { return e.msg }

func layoutImpossiblef(format string, args ...interface{}) error {
	return &layoutImpossibleError{msg: errors.Errorf(format, args...).Error()}
}

// IsLayoutImpossible reports whether err means the requested edits cannot
// be laid out (virtual address space underrun, non-contiguous/partially
// mapped SHT_NOTE sections, unsupported PT_NOTE/SHT_NOTE overlap).
func IsLayoutImpossible(err error) bool {
	_, ok := err.(*layoutImpossibleError)
	return ok
}

// checkedAdd and checkedMul implement the overflow-checked arithmetic
// spec.md §4.2/§7 requires for file-offset bounds checks. Go's uint64
// doesn't trap on overflow, so checkedAdd detects wraparound by comparing
// the sum with an operand and checkedMul by dividing the product back.
func checkedAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}

func checkedMul(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	return product, product/a == b
}
