package plugins_test

import (
	"testing"

	"github.com/pdellaert/fbw-installer/internal/plugins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		local, remote string
		newer         bool
	}{
		{"1.0.0", "1.0.1", true},
		{"1.0.1", "1.0.0", false},
		{"1.0.0", "1.0.0", false},
		{"1.9.0", "1.10.0", true},
		{"1.1.0", "1.0.9", false},
		{"1.0.0-beta.2", "1.0.0", true},
		{"1.0.0-beta.2", "1.0.0-beta.10", true},
		{"1.0.0", "1.0.0+build.7", false},
		{"v1.0.0", "1.0.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.local+" to "+tt.remote, func(t *testing.T) {
			newer, err := plugins.IsNewerVersion(tt.local, tt.remote)
			require.NoError(t, err)
			assert.Equal(t, tt.newer, newer)
		})
	}
}

func TestIsNewerVersionRejectsPartialVersions(t *testing.T) {
	for _, bad := range []string{"", "1.2", "1", "latest", "1.0.0.0"} {
		_, err := plugins.IsNewerVersion("1.0.0", bad)
		assert.Error(t, err, "remote %q", bad)

		_, err = plugins.CompareVersions(bad, "1.0.0")
		assert.Error(t, err, "local %q", bad)
	}
}

func TestSortVersions(t *testing.T) {
	versions := []string{"1.10.0", "not-a-version", "1.2", "1.2.0", "1.0.9", "1.2.0-beta.1"}
	plugins.SortVersions(versions)

	assert.Equal(t, []string{"1.0.9", "1.2.0-beta.1", "1.2.0", "1.10.0", "1.2", "not-a-version"}, versions)
}
