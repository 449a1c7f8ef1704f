package mirror

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolve returns a destination file name that is free according to exists.
// If the desired name is taken it probes "stem N.ext" for N = 1, 2, 3, ...
// and returns the first free candidate. exists is consulted fresh on every
// probe so the result reflects current directory state; there is
// deliberately no upper bound on N.
func Resolve(desired string, exists func(name string) (bool, error)) (string, error) {
	ok, err := exists(desired)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", desired, err)
	}
	if !ok {
		return desired, nil
	}
	ext := filepath.Ext(desired)
	stem := strings.TrimSuffix(desired, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s %d%s", stem, n, ext)
		ok, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", candidate, err)
		}
		if !ok {
			return candidate, nil
		}
	}
}
