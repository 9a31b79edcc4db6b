// Package idgen provides ID generation for lexalign records.
//
// Constructors across the repo accept a Generator so the ID strategy is a
// startup-time decision; tests substitute deterministic generators to get
// byte-stable output.
package idgen

import (
	"strconv"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings.
// Time-sortable, which keeps store rows in insertion order when sorted by ID.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed type prefix to every ID from gen.
// Conventional prefixes: "doc_", "run_", "frg_", "gt_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequential returns a Generator producing prefix0, prefix1, ... in call
// order. Used where the ID must encode document order (fragments,
// ground-truth paragraphs) and in tests that need reproducible IDs.
func Sequential(prefix string) Generator {
	n := 0
	return func() string {
		id := prefix + strconv.Itoa(n)
		n++
		return id
	}
}

// Default is the repo default: UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
