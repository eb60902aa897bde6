// Package version reports the build version of the djbs binaries.
//
// Release builds inject Version, Commit and Date with -ldflags:
//
//	-ldflags "-X github.com/dendrascience/dendra-blockstore/version.Version=v1.0.0 \
//	          -X github.com/dendrascience/dendra-blockstore/version.Commit=abc123"
//
// Development builds fall back to debug.ReadBuildInfo, so `go install` and
// VCS-stamped builds still report something useful. The same version string
// is recorded in every store descriptor written by `djbs format`.
package version
