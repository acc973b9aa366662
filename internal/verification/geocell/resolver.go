// Package geocell resolves coarse spatial buckets to their enclosing
// regions. Cells are geohash-style prefixed identifiers, so the enclosing
// region of a cell is a fixed-length prefix of it.
package geocell

import (
	"context"
	"fmt"

	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

// DefaultRegionLength is the prefix length of the enclosing region. Cells in
// production are 7-character buckets (~150 m); a 4-character prefix is the
// neighborhood-scale region the trajectory check compares.
const DefaultRegionLength = 4

// PrefixResolver derives regions by truncating cell identifiers.
type PrefixResolver struct {
	regionLen int
}

// NewPrefixResolver constructs a resolver with the given region prefix
// length, falling back to the default for non-positive values.
func NewPrefixResolver(regionLen int) *PrefixResolver {
	if regionLen <= 0 {
		regionLen = DefaultRegionLength
	}
	return &PrefixResolver{regionLen: regionLen}
}

// Region returns the enclosing region of a cell. A cell shorter than the
// region length cannot be placed; callers fail open on the error.
func (r *PrefixResolver) Region(_ context.Context, cell id.Geocell) (string, error) {
	s := cell.String()
	if len(s) < r.regionLen {
		return "", fmt.Errorf("geocell %q shorter than region prefix: %w", s, sentinel.ErrUnavailable)
	}
	return s[:r.regionLen], nil
}
