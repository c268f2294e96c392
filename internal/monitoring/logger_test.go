package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	assert.True(t, called, "custom logger was not called")

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test message")
	assert.False(t, called)
}

func TestComponentPrefix(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := Component("CFCache")
	logf("loaded %d entries", 3)

	// Swapping the logger after Component was created still redirects output.
	var late []string
	SetLogger(func(format string, v ...interface{}) {
		late = append(late, fmt.Sprintf(format, v...))
	})
	logf("flushed")

	assert.Equal(t, []string{"[CFCache] loaded 3 entries"}, lines)
	assert.Equal(t, []string{"[CFCache] flushed"}, late)
}
