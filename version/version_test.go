package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	defer func(r, h, c string) {
		ReleaseVersion, Hash, CompileTime = r, h, c
	}(ReleaseVersion, Hash, CompileTime)

	ReleaseVersion, Hash, CompileTime = "", "", ""
	assert.Equal(t, UnknownVersion, Version())
	assert.Equal(t, "csvstore (unknown version) compiled at unknown time from git hash unknown", LongVersion())

	ReleaseVersion, Hash, CompileTime = "1.2.3", "abc123", "2024-01-02T03:04:05+0000"
	assert.Equal(t, "1.2.3", Version())
	assert.Equal(t, "csvstore 1.2.3 compiled at 2024-01-02T03:04:05+0000 from git hash abc123", LongVersion())
}
