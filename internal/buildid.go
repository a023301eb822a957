package internal

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// BuildBranchPrefix is the branch namespace holding one branch per build.
	BuildBranchPrefix = "builds/"

	// HookRefPrefix is the ref namespace holding per-build hook blobs.
	HookRefPrefix = "refs/hooks/builds/"
)

var (
	buildIDPattern     = regexp.MustCompile(`^[a-f0-9]{40}$`)
	buildBranchPattern = regexp.MustCompile(`^builds/([a-f0-9]{40})$`)
)

// BuildID is the 40 character hexadecimal identifier naming a build and its branch.
type BuildID string

// ParseBuildID validates the given string as a build identifier.
func ParseBuildID(s string) (BuildID, error) {
	if !buildIDPattern.MatchString(s) {
		return "", fmt.Errorf("invalid build identifier %q: expected 40 lowercase hexadecimal characters", s)
	}
	return BuildID(s), nil
}

// BuildIDFromBranch extracts the build identifier from a branch name such as
// "builds/<id>" or "refs/heads/builds/<id>". The second return value reports
// whether the branch is a build branch.
func BuildIDFromBranch(branch string) (BuildID, bool) {
	branch = strings.TrimPrefix(branch, "refs/heads/")
	match := buildBranchPattern.FindStringSubmatch(branch)
	if match == nil {
		return "", false
	}
	return BuildID(match[1]), true
}

// String returns the identifier itself.
func (id BuildID) String() string {
	return string(id)
}

// Branch returns the short branch name in the format "builds/<id>".
func (id BuildID) Branch() string {
	return BuildBranchPrefix + string(id)
}

// Ref returns the fully qualified branch ref "refs/heads/builds/<id>".
func (id BuildID) Ref() string {
	return "refs/heads/" + id.Branch()
}

// HookRefs returns the ref pattern matching every hook ref of this build.
func (id BuildID) HookRefs() string {
	return HookRefPrefix + string(id)
}
