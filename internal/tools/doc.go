// Package tools provides host helpers shared by activity runners.
//
// Ownership boundary:
// - command execution helpers
//
// - process group setup and cancellation
package tools
