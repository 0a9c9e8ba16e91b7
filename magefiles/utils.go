//go:build mage

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/sh"
)

// goCmd runs the go tool from the module root with its output on the terminal.
func goCmd(args ...string) error {
	fmt.Printf("go %s\n", strings.Join(args, " "))
	if err := sh.RunV("go", args...); err != nil {
		return fmt.Errorf("go %s: %w", args[0], err)
	}
	return nil
}

// Runs go mod tidy.
func Tidy() error {
	return goCmd("mod", "tidy")
}
