// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package elfsym

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
)

// Mapping is a memory mapping entry of /proc/<pid>/maps.
type Mapping struct {
	Start, End uint64
	Perms      string
	Offset     uint64
	Path       string
}

// MappingStart returns the start address of the mapping at file offset 0 of
// the given file in the process of the given pid.
func MappingStart(pid int, path string) (uint64, error) {
	mapsPath := fmt.Sprintf("/proc/%d/maps", pid)
	f, err := os.Open(mapsPath)
	if err != nil {
		return 0, sqerrors.Wrap(err, "elfsym: could not read the process mappings")
	}
	defer f.Close()

	mappings, err := ParseMaps(f)
	if err != nil {
		return 0, sqerrors.Wrapf(err, "elfsym: could not parse `%s`", mapsPath)
	}

	paths := []string{path}
	// The same file may be known by another path.
	if resolved, err := filepath.EvalSymlinks(path); err == nil && resolved != path {
		paths = append(paths, resolved)
	}
	for _, p := range paths {
		if m, found := findMapping(mappings, p); found {
			return m.Start, nil
		}
	}
	return 0, sqerrors.Errorf("elfsym: `%s` is not mapped in process %d", path, pid)
}

func findMapping(mappings []Mapping, path string) (Mapping, bool) {
	for _, m := range mappings {
		if m.Offset == 0 && m.Path == path {
			return m, true
		}
	}
	return Mapping{}, false
}

// ParseMaps parses the content of a /proc/<pid>/maps file. Anonymous mappings
// have an empty path.
// Format: address           perms offset  dev   inode   pathname
// Example: 555555554000-555555556000 r-xp 00000000 08:01 123456 /path/to/binary
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var mappings []Mapping
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		m, err := parseMapping(text)
		if err != nil {
			return nil, sqerrors.Wrapf(err, "line %d", line)
		}
		mappings = append(mappings, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mappings, nil
}

func parseMapping(line string) (m Mapping, err error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Mapping{}, sqerrors.Errorf("unexpected mapping format `%s`", line)
	}

	addrRange := strings.SplitN(fields[0], "-", 2)
	if len(addrRange) != 2 {
		return Mapping{}, sqerrors.Errorf("unexpected address range format `%s`", fields[0])
	}
	if m.Start, err = strconv.ParseUint(addrRange[0], 16, 64); err != nil {
		return Mapping{}, sqerrors.Wrap(err, "mapping start address")
	}
	if m.End, err = strconv.ParseUint(addrRange[1], 16, 64); err != nil {
		return Mapping{}, sqerrors.Wrap(err, "mapping end address")
	}
	if m.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return Mapping{}, sqerrors.Wrap(err, "mapping offset")
	}
	m.Perms = fields[1]
	if len(fields) > 5 {
		// Paths may contain spaces.
		m.Path = strings.Join(fields[5:], " ")
	}
	return m, nil
}
