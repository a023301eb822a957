package buildtool

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/Masterminds/semver/v3"
)

// ExecutableName is the build tool binary inside an installed version
// directory.
const ExecutableName = "sencha"

var buildVersionPattern = regexp.MustCompile(`^(\d+\.\d+\.\d+)(\.\d+)$`)

type installed struct {
	dir     string
	version *semver.Version
}

// FindCmd returns the build tool executable of the newest version installed
// under distPath. Four part versions such as 6.2.0.103 are read as
// 6.2.0-build.103.
func FindCmd(distPath string) (string, error) {
	entries, err := os.ReadDir(distPath)
	if err != nil {
		return "", fmt.Errorf("failed to read build tool directory %q: %w", distPath, err)
	}

	var versions []installed
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		version, err := semver.StrictNewVersion(buildVersionPattern.ReplaceAllString(entry.Name(), "$1-build$2"))
		if err != nil {
			continue
		}

		versions = append(versions, installed{dir: entry.Name(), version: version})
	}

	if len(versions) == 0 {
		return "", fmt.Errorf("no build tool versions installed in %q\nInstall Sencha Cmd into a versioned directory such as %s", distPath, filepath.Join(distPath, "6.2.0.103"))
	}

	slices.SortFunc(versions, func(a, b installed) int {
		return b.version.Compare(a.version)
	})

	return filepath.Join(distPath, versions[0].dir, ExecutableName), nil
}
