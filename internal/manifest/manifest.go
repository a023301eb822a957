// Package manifest writes the build.manifest blob that indexes a build's
// output tree.
//
// A manifest has one line per file, "path\thash\tsize\tmimeType", in the
// order git lists the tree.
package manifest

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/jarvus/sencha-buildd/internal/git"
	"golang.org/x/sync/errgroup"
)

var (
	listingPattern = regexp.MustCompile(`^(\d+) blob ([a-f0-9]{40}) +(\d+)\t(.+)$`)
	hashPattern    = regexp.MustCompile(`^[a-f0-9]{40}$`)
)

// Entry describes one file of a build tree.
type Entry struct {
	Path     string
	Hash     string
	Size     int64
	MimeType string
}

// String formats the entry as a manifest line without the trailing newline.
func (e Entry) String() string {
	return fmt.Sprintf("%s\t%s\t%d\t%s", e.Path, e.Hash, e.Size, e.MimeType)
}

// Generator writes manifests for trees of one repository.
type Generator struct {
	repo    git.Repository
	workers int
}

// NewGenerator returns a Generator resolving MIME types with at most workers
// goroutines.
func NewGenerator(repo git.Repository, workers int) Generator {
	if workers < 1 {
		workers = 1
	}

	return Generator{repo: repo, workers: workers}
}

// Generate lists treeish recursively, writes its manifest as a blob and
// returns the blob hash.
func (g Generator) Generate(ctx context.Context, treeish string) (string, error) {
	listing, err := g.repo.Run(ctx, "ls-tree", "-r", "-l", "-z", treeish)
	if err != nil {
		return "", fmt.Errorf("failed to list tree %q: %w", treeish, err)
	}

	entries, err := parseListing(listing)
	if err != nil {
		return "", err
	}

	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(g.workers)
	for i := range entries {
		entry := &entries[i]
		group.Go(func() error {
			entry.MimeType = MimeType(entry.Path)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return "", err
	}

	process, err := g.repo.Stream(ctx, "hash-object", "-w", "--stdin")
	if err != nil {
		return "", fmt.Errorf("failed to start manifest hashing: %w", err)
	}
	defer process.Abort()

	for _, entry := range entries {
		if _, err := io.WriteString(process.Stdin, entry.String()+"\n"); err != nil {
			return "", fmt.Errorf("failed to write manifest line for %q: %w", entry.Path, err)
		}
	}

	hash, err := process.Wait()
	if err != nil {
		return "", fmt.Errorf("failed to hash manifest: %w", err)
	}

	return strings.TrimSpace(hash), nil
}

// parseListing reads NUL terminated ls-tree records, whose paths are not
// quoted.
func parseListing(listing string) ([]Entry, error) {
	listing = strings.TrimSuffix(listing, "\x00")
	if listing == "" {
		return nil, nil
	}

	lines := strings.Split(listing, "\x00")
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		match := listingPattern.FindStringSubmatch(line)
		if match == nil {
			return nil, &ManifestError{Line: line, Reason: "unable to parse ls-tree output"}
		}

		size, err := strconv.ParseInt(match[3], 10, 64)
		if err != nil {
			return nil, &ManifestError{Line: line, Reason: "invalid size"}
		}

		entries = append(entries, Entry{
			Path: match[4],
			Hash: match[2],
			Size: size,
		})
	}

	return entries, nil
}

// Parse reads manifest content back into entries.
func Parse(content string) ([]Entry, error) {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil, nil
	}

	var entries []Entry
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			return nil, &ManifestError{Line: line, Reason: "expected 4 tab separated fields"}
		}
		if !hashPattern.MatchString(fields[1]) {
			return nil, &ManifestError{Line: line, Reason: "invalid object hash"}
		}

		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, &ManifestError{Line: line, Reason: "invalid size"}
		}

		entries = append(entries, Entry{
			Path:     fields[0],
			Hash:     fields[1],
			Size:     size,
			MimeType: fields[3],
		})
	}

	return entries, nil
}
