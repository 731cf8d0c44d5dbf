// Package memory defines the memory item model shared by the relevance engine:
// the item itself, its closed kind enum, importance levels, and the scored
// wrapper produced by a ranking pass.
package memory

import "errors"

// Sentinel errors for the memory model.
var (
	ErrInvalidScope    = errors.New("memory: invalid scope")
	ErrInvalidItemID   = errors.New("memory: invalid item ID")
	ErrEmptyContent    = errors.New("memory: empty content")
	ErrInvalidArgument = errors.New("memory: invalid argument")
)

// Clamp01 bounds v to [0,1]. NaN is treated as 0.
func Clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
