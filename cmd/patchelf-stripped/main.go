// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

// Command patchelf-stripped is a minimal driver for package needed: it
// replaces DT_NEEDED entries in an ELF file in place. It exists so the
// module is runnable end to end; argument parsing and diagnostics are
// deliberately bare-bones and are not part of the tested surface.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ThatMG393/patchelf-stripped/elf"
	"github.com/ThatMG393/patchelf-stripped/needed"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logrus.WithError(err).Error("patchelf-stripped failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: patchelf-stripped <old=new>[,<old=new>...] <file>")
	}

	libs, err := parseReplacements(args[0])
	if err != nil {
		return err
	}
	path := args[1]

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read input file")
	}

	img, err := elf.Open(data)
	if err != nil {
		return errors.Wrap(err, "parse ELF image")
	}

	if err := needed.Replace(img, libs); err != nil {
		return errors.Wrap(err, "replace needed libraries")
	}

	if !img.Changed {
		return nil
	}

	if err := os.WriteFile(path, img.Bytes, 0777); err != nil {
		return errors.Wrap(err, "write output file")
	}
	return nil
}

func parseReplacements(spec string) (map[string]string, error) {
	libs := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("invalid replacement %q, expected old=new", pair)
		}
		libs[kv[0]] = kv[1]
	}
	return libs, nil
}
