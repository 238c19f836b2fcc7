package sassplay

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModuleVersion(t *testing.T) {
	main := &debug.BuildInfo{Main: debug.Module{Path: root, Version: "v0.3.0", Sum: "h1:abc"}}
	v, sum := moduleVersion(main)
	assert.Equal(t, "v0.3.0", v)
	assert.Equal(t, "h1:abc", sum)

	dep := &debug.BuildInfo{
		Main: debug.Module{Path: "example.com/tool"},
		Deps: []*debug.Module{{
			Path:    root,
			Version: "v0.2.0",
			Replace: &debug.Module{Path: "../sassplay"},
		}},
	}
	v, _ = moduleVersion(dep)
	assert.Equal(t, "v0.2.0=>../sassplay", v)

	v, sum = moduleVersion(&debug.BuildInfo{Main: debug.Module{Path: "example.com/tool"}})
	assert.Empty(t, v)
	assert.Empty(t, sum)
}

func TestBuildInfoString(t *testing.T) {
	b := BuildInfo{Version: "(devel)", Revision: "0123456789abcdef", Modified: true, GoVersion: "go1.24.0"}
	assert.Equal(t, "sassplay (devel) (0123456789ab, modified) go1.24.0", b.String())
	assert.Equal(t, "sassplay v1.0.0 go1.24.0", BuildInfo{Version: "v1.0.0", GoVersion: "go1.24.0"}.String())
}
