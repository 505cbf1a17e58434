// Package version holds build information set with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/chainexport/csvstore/version.ReleaseVersion=1.0.0"
package version

import (
	"fmt"
)

var (
	// Hash is the git commit hash.
	Hash string

	// CompileTime YYYY-mm-ddTHH:MM:SS+ZZZZ
	CompileTime string

	// ReleaseVersion is the release tag.
	ReleaseVersion string
)

// UnknownVersion is used when the version is not known.
const UnknownVersion = "(unknown version)"

// Version the binary version.
func Version() string {
	if ReleaseVersion == "" {
		return UnknownVersion
	}
	return ReleaseVersion
}

// LongVersion adds the compile time and commit hash to Version.
func LongVersion() string {
	hash := Hash
	if hash == "" {
		hash = "unknown"
	}
	compiled := CompileTime
	if compiled == "" {
		compiled = "unknown time"
	}
	return fmt.Sprintf("csvstore %s compiled at %s from git hash %s", Version(), compiled, hash)
}
