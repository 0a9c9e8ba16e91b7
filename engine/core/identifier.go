package core

import (
	"fmt"

	"github.com/google/uuid"
)

// NewIdentifier returns a unique, human-scannable name for objects created without one, such as
// transient staging buffers or unnamed command lists.
func NewIdentifier(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
