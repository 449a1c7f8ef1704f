package mirror

import "strings"

// Markers for files that are still in flight: office editors drop a "~$"
// lock companion while a document is open, and transfer tools write to a
// ".tmp" name before renaming into place. Neither must ever be copied.
const (
	lockPrefix = "~$"
	tempSuffix = ".tmp"
)

// Filter is the accept/reject predicate for source file names. It is a pure
// function of the name string and performs no I/O.
type Filter struct {
	ext string
}

// NewFilter builds a filter for one extension, e.g. ".xml". The extension
// compare is case-insensitive; a missing leading dot is tolerated.
func NewFilter(ext string) Filter {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return Filter{ext: strings.ToLower(ext)}
}

// Accepts reports whether name qualifies for mirroring.
func (f Filter) Accepts(name string) bool {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, f.ext) {
		return false
	}
	if strings.HasPrefix(name, lockPrefix) {
		return false
	}
	if strings.HasSuffix(lower, tempSuffix) {
		return false
	}
	return true
}
