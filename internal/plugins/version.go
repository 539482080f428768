package plugins

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// parseVersion reads a plugin version. Release versions are full
// MAJOR.MINOR.PATCH semantic versions; a leading "v" is tolerated.
func parseVersion(version string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", version, err)
	}
	return v, nil
}

// CompareVersions returns -1, 0 or 1 as local is older than, equal to or
// newer than remote. Build metadata is ignored.
func CompareVersions(local, remote string) (int, error) {
	l, err := parseVersion(local)
	if err != nil {
		return 0, err
	}
	r, err := parseVersion(remote)
	if err != nil {
		return 0, err
	}
	return l.Compare(r), nil
}

// IsNewerVersion reports whether remote is a later release than local.
func IsNewerVersion(local, remote string) (bool, error) {
	c, err := CompareVersions(local, remote)
	return c < 0, err
}

// SortVersions orders version directory names ascending. Names that are
// not versions sort last, lexically.
func SortVersions(versions []string) {
	parsed := make(map[string]*semver.Version, len(versions))
	for _, name := range versions {
		if v, err := parseVersion(name); err == nil {
			parsed[name] = v
		}
	}
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := parsed[versions[i]], parsed[versions[j]]
		switch {
		case a != nil && b != nil:
			return a.LessThan(b)
		case a != nil || b != nil:
			return a != nil
		}
		return versions[i] < versions[j]
	})
}
