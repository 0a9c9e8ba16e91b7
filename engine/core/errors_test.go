package core

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestAssertPanicsWithAssertionFailure(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Assert(false)\nhave no panic\nwant panic")
		}
		if !IsAssertionFailure(r) {
			t.Errorf("recovered %T %v\nwant assertion failure", r, r)
		}
	}()
	Assert(false, "resource %s in state %d", "albedo", 4)
}

func TestAssertPassesThrough(t *testing.T) {
	Assert(true, "never fires")
}

func TestIsAssertionFailureRejectsOtherValues(t *testing.T) {
	if IsAssertionFailure("string") {
		t.Error("IsAssertionFailure(string)\nhave true\nwant false")
	}
	if IsAssertionFailure(errors.New("plain")) {
		t.Error("IsAssertionFailure(plain error)\nhave true\nwant false")
	}
}
