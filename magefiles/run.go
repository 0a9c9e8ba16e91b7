//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed with the Vulkan backend in a window.
func (Run) Vulkan() error {
	fmt.Println("Run testbed on vulkan...")
	return goCmd("run", ".", "-config", "config.toml", "-backend", "vulkan")
}

// Runs a few hundred frames of the testbed without a GPU.
func (Run) Headless() error {
	fmt.Println("Run testbed headless...")
	return goCmd("run", ".", "-config", "config.toml", "-backend", "headless", "-frames", "300")
}
