// Package textutil provides small text helpers shared across packages:
// filesystem-safe tokens for lock files and sample ids, and display names
// derived from directory names.
package textutil
