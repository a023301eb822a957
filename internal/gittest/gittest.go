// Package gittest builds fixture repositories for tests using git plumbing.
package gittest

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/jarvus/sencha-buildd/internal/git"
	"github.com/stretchr/testify/require"
)

// Identity is the author and committer used for fixture commits.
var Identity = map[string]string{
	"GIT_AUTHOR_NAME":     "Some User",
	"GIT_AUTHOR_EMAIL":    "some@example.com",
	"GIT_COMMITTER_NAME":  "Some User",
	"GIT_COMMITTER_EMAIL": "some@example.com",
}

// NewBareRepository initializes an empty bare repository in a temporary
// directory removed when the test ends.
func NewBareRepository(t *testing.T) git.Repository {
	t.Helper()

	repo, err := git.InitBare(context.Background(), filepath.Join(t.TempDir(), "builds.git"))
	require.NoError(t, err)

	return repo
}

// WriteBlob stores content as a blob and returns its hash.
func WriteBlob(t *testing.T, repo git.Repository, content string) string {
	t.Helper()

	hash, err := repo.RunWithInput(context.Background(), strings.NewReader(content), "hash-object", "-w", "--stdin")
	require.NoError(t, err)

	return strings.TrimSpace(hash)
}

// WriteTree stores the given path to content mapping as a tree and returns
// its hash. Paths may contain slashes.
func WriteTree(t *testing.T, repo git.Repository, files map[string]string) string {
	t.Helper()

	ctx := context.Background()
	index := repo.WithEnv(map[string]string{
		"GIT_INDEX_FILE": filepath.Join(t.TempDir(), "index"),
	})

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		blob := WriteBlob(t, repo, files[path])
		_, err := index.Run(ctx, "update-index", "--add", "--cacheinfo", "100644,"+blob+","+path)
		require.NoError(t, err)
	}

	tree, err := index.Run(ctx, "write-tree")
	require.NoError(t, err)

	return strings.TrimSpace(tree)
}

// Commit creates a commit of files on top of ref's current head (if any),
// points ref at it and returns the commit hash.
func Commit(t *testing.T, repo git.Repository, ref, message string, files map[string]string) string {
	t.Helper()

	ctx := context.Background()
	tree := WriteTree(t, repo, files)

	args := []string{"commit-tree", tree, "-m", message}
	if parent := Resolve(t, repo, ref); parent != "" {
		args = append(args, "-p", parent)
	}

	commit, err := repo.WithEnv(Identity).Run(ctx, args...)
	require.NoError(t, err)
	commit = strings.TrimSpace(commit)

	_, err = repo.Run(ctx, "update-ref", ref, commit)
	require.NoError(t, err)

	return commit
}

// Resolve returns the hash ref points at, or an empty string when it does
// not exist.
func Resolve(t *testing.T, repo git.Repository, ref string) string {
	t.Helper()

	hash, err := repo.Run(context.Background(), "rev-parse", "--verify", "--quiet", ref)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(hash)
}

// Message returns the full commit message of the commit ref points at.
func Message(t *testing.T, repo git.Repository, ref string) string {
	t.Helper()

	output, err := repo.Run(context.Background(), "log", "-1", "--format=%B", ref)
	require.NoError(t, err)

	return strings.TrimRight(output, "\n")
}

// Show returns the content of the object named by spec, such as "<ref>:path".
func Show(t *testing.T, repo git.Repository, spec string) string {
	t.Helper()

	output, err := repo.Run(context.Background(), "cat-file", "-p", spec)
	require.NoError(t, err)

	return output
}
