// Package git drives the system git binary against the build repository.
//
// Repository runs plumbing commands in buffered or streaming mode, with
// per-call environment overrides so concurrent builds can use private work
// trees and index files against one bare repository. Backend serves the
// smart-HTTP protocol for that repository and starts a build whenever a push
// moves a build branch.
package git
