package manifest

import "fmt"

// ManifestError reports a tree listing or manifest line that could not be
// parsed. No manifest blob is written when it is returned by Generate.
type ManifestError struct {
	Line   string
	Reason string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid manifest input %q: %s", e.Line, e.Reason)
}
