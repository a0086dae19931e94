// Package ui renders the `coddy status` view: the record table and the
// worker's progress box, either once or as a live Bubble Tea program.
package ui
