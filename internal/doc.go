// Package internal contains shared types and utilities for sencha-buildd.
//
// It provides configuration parsing, build identifiers, cleanup orchestration,
// and the logging abstraction used across the git, pipeline and service packages.
package internal
