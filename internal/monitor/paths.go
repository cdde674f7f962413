package monitor

import "regexp"

var numericSegment = regexp.MustCompile(`/\d+`)

// NormalizePath collapses numeric path segments to a placeholder so metric
// label cardinality stays bounded, e.g. /books/42 -> /books/{id}.
func NormalizePath(path string) string {
	return numericSegment.ReplaceAllString(path, "/{id}")
}
