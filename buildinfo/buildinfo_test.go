package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	props := Get()
	assert.Equal(t, "dev", props.Version)
	assert.Equal(t, "unknown", props.BuildTime)
	assert.Equal(t, "unknown", props.GitCommit)
	assert.Equal(t, runtime.Version(), props.GoVersion)
}
