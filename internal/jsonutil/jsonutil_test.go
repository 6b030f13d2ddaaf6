package jsonutil

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var colors = regexp.MustCompile("\x1b\\[[0-9;]*m")

func TestMarshalCompactPretty(t *testing.T) {
	v := struct {
		Name     string
		Empty    string
		Err      error
		Interval time.Duration
		hidden   int
	}{
		Name:     "foo",
		Err:      errors.New("bar"),
		Interval: time.Second,
		hidden:   1,
	}
	b, err := MarshalCompactPretty(v)
	require.NoError(t, err)
	assert.Equal(t, "Name: \"foo\"\nErr: \"bar\"\nInterval: \"1s\"\n", colors.ReplaceAllString(string(b), ""))
}
