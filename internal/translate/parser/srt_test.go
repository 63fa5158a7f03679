package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `1
00:00:01,000 --> 00:00:04,000
Hello there.

2
00:00:05,500 --> 00:00:08,250
How are you?
Second line.
`

func TestParseSRTBasic(t *testing.T) {
	segments, err := ParseSRT(sample)
	require.NoError(t, err)
	require.Len(t, segments, 2)

	assert.Equal(t, 1, segments[0].Index)
	assert.Equal(t, time.Second, segments[0].Start)
	assert.Equal(t, 4*time.Second, segments[0].End)
	assert.Equal(t, []string{"Hello there."}, segments[0].Text)

	assert.Equal(t, 2, segments[1].Index)
	assert.Equal(t, []string{"How are you?", "Second line."}, segments[1].Text)
}

func TestSerializeSRTRoundTrip(t *testing.T) {
	segments, err := ParseSRT(sample)
	require.NoError(t, err)

	out := SerializeSRT(segments)
	reparsed, err := ParseSRT(out)
	require.NoError(t, err)

	require.Equal(t, segments, reparsed)
	assert.Equal(t, byte('\n'), out[len(out)-1])
	assert.NotEqual(t, byte('\n'), out[len(out)-2])
}

func TestSerializeSRTRenumbersContiguously(t *testing.T) {
	segments := []Segment{
		{Index: 7, Start: time.Second, End: 2 * time.Second, Text: []string{"a"}},
		{Index: 12, Start: 3 * time.Second, End: 4 * time.Second, Text: []string{"b"}},
	}
	out := SerializeSRT(segments)
	reparsed, err := ParseSRT(out)
	require.NoError(t, err)
	assert.Equal(t, 1, reparsed[0].Index)
	assert.Equal(t, 2, reparsed[1].Index)
}

func TestParseSRTMalformedReturnsError(t *testing.T) {
	_, err := ParseSRT("not a subtitle file")
	assert.Error(t, err)
}

func TestParseSRTEmptyReturnsError(t *testing.T) {
	_, err := ParseSRT("")
	assert.Error(t, err)
}
