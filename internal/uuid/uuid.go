// Package uuid generates and validates the record identifiers used
// across the task and gap collections.
package uuid

import (
	"fmt"
	"regexp"

	guuid "github.com/google/uuid"
)

// Record identifiers are canonical dashed UUID v4; the first hex digit
// of the fourth group carries the variant bits.
var recordIDForm = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New returns a fresh record identifier.
func New() string {
	return guuid.New().String()
}

// Validate rejects identifiers that are not canonical UUID v4.
// Records arriving from the remote service carry their own IDs, so
// ingest paths check them before writing.
func Validate(s string) error {
	if !recordIDForm.MatchString(s) {
		return fmt.Errorf("invalid record id %q", s)
	}
	return nil
}
