//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Downloads the modules and builds every package.
func (Build) All() error {
	if err := goCmd("mod", "download"); err != nil {
		return err
	}
	if err := goCmd("build", "./..."); err != nil {
		return err
	}
	return nil
}

// Builds the testbed binary into bin/.
func (Build) Testbed() error {
	mg.Deps(Build.All)
	return goCmd("build", "-o", "bin/cauldron", ".")
}

type Test mg.Namespace

// Runs every package test.
func (Test) All() error {
	return goCmd("test", "./...")
}

// Runs the tests with the race detector; the job system and upload streaming are concurrent.
func (Test) Race() error {
	return goCmd("test", "-race", "./engine/...")
}
