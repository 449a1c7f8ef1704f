package mirror

import (
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var numberedName = regexp.MustCompile(`^(.*?)(\d+)?(\.[^.]+)$`)

// ListWindowsStyle returns the files in the directory root carrying the
// given extension, ordered the way Windows Explorer orders numbered copies:
// base.xml, base1.xml, base2.xml, ..., other.xml.
func ListWindowsStyle(dir, ext string) ([]string, error) {
	ext = strings.ToLower(ext)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			files = append(files, e.Name())
		}
	}
	sort.Slice(files, func(i, j int) bool {
		si, ni, ei := splitNumbered(files[i])
		sj, nj, ej := splitNumbered(files[j])
		if si != sj {
			return si < sj
		}
		if ni != nj {
			return ni < nj
		}
		return ei < ej
	})
	return files, nil
}

func splitNumbered(name string) (stem string, num int, ext string) {
	m := numberedName.FindStringSubmatch(name)
	if m == nil {
		return name, 0, ""
	}
	if m[2] != "" {
		num, _ = strconv.Atoi(m[2])
	}
	return m[1], num, m[3]
}
