// Package transaction provides the durability primitives the update engine
// relies on: write-then-rename file replacement, an exclusive lock on an
// installation directory and a small journal describing the update run in
// progress.
package transaction
