package multimaya

import (
	"fmt"
	"strings"
)

// MinimumPythonVersion is the oldest interpreter the shim is written for.
var MinimumPythonVersion = Version{Major: 3, Minor: 8, Patch: -1}

// Version represents a semantic version with major, minor, and patch components.
// Minor and Patch may be -1 if not specified (e.g., "3" parses as {3, -1, -1}).
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// ParseVersion parses "X.Y.Z", "X.Y" or "X". Trailing text after the last
// number is ignored, so "3.11.4+" and "3.12.0rc1" both parse.
func ParseVersion(versionStr string) (Version, error) {
	version := Version{Minor: -1, Patch: -1}
	s := strings.TrimSpace(versionStr)
	_, err := fmt.Sscanf(s, "%d.%d.%d", &version.Major, &version.Minor, &version.Patch)
	if err != nil {
		version.Minor, version.Patch = -1, -1
		_, err = fmt.Sscanf(s, "%d.%d", &version.Major, &version.Minor)
		if err != nil {
			version.Minor = -1
			_, err = fmt.Sscanf(s, "%d", &version.Major)
			if err != nil {
				return Version{}, fmt.Errorf("error parsing version %q: %v", versionStr, err)
			}
		}
	}
	if version.Major < 0 || version.Minor < -1 || version.Patch < -1 {
		return Version{}, fmt.Errorf("invalid version: %s", versionStr)
	}
	return version, nil
}

// Compare returns -1 if v < other, 0 if v == other, or 1 if v > other.
// An unspecified component compares lower than any specified one.
func (v Version) Compare(other Version) int {
	pairs := [][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}}
	for _, p := range pairs {
		if p[0] > p[1] {
			return 1
		}
		if p[0] < p[1] {
			return -1
		}
	}
	return 0
}

// AtLeast reports whether v is the same as or newer than min, ignoring
// components min leaves unspecified.
func (v Version) AtLeast(min Version) bool {
	cmp := Version{Major: v.Major, Minor: -1, Patch: -1}
	if min.Minor != -1 {
		cmp.Minor = v.Minor
	}
	if min.Minor != -1 && min.Patch != -1 {
		cmp.Patch = v.Patch
	}
	return cmp.Compare(min) >= 0
}

// String returns the version as a string, omitting unspecified components.
// Examples: "3.10.5", "3.10", "3"
func (v Version) String() string {
	if v.Patch != -1 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	if v.Minor != -1 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d", v.Major)
}
