package mcu

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/stretchr/testify/require"

	"mculink-host/pkg/protocol"
)

const sampleDict = `{
	"version": "gopper-0.3.1",
	"build_versions": "tinygo 0.34",
	"config": {"CLOCK_FREQ": 125000000},
	"commands": {"identify offset=%u count=%c": 1, "get_clock": 3},
	"responses": {"identify_response offset=%u data=%.*s": 0, "clock clock=%u": 3},
	"enumerations": {"pin": {"PA3": [35, 5], "LED": 99}}
}`

func TestParseDictionaryPlain(t *testing.T) {
	d, err := ParseDictionary([]byte(sampleDict))
	require.NoError(t, err)
	require.Equal(t, "gopper-0.3.1", d.Version)
	require.Equal(t, "tinygo 0.34", d.BuildVersions)
	require.Equal(t, float64(125000000), d.Config["CLOCK_FREQ"])
	require.Equal(t, 1, d.Commands["identify offset=%u count=%c"])

	id, ok := d.CommandID("get_clock")
	require.True(t, ok)
	require.Equal(t, 3, id)

	name, ok := d.ResponseName(0)
	require.True(t, ok)
	require.Equal(t, "identify_response", name)
}

func TestParseDictionaryZlib(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write([]byte(sampleDict))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	d, err := ParseDictionary(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "gopper-0.3.1", d.Version)
}

func TestParseDictionaryEnumerationRanges(t *testing.T) {
	d, err := ParseDictionary([]byte(sampleDict))
	require.NoError(t, err)
	pins := d.Enumerations["pin"]
	require.Equal(t, 35, pins["PA3"])
	require.Equal(t, 39, pins["PA7"])
	require.Equal(t, 99, pins["LED"])
	_, ok := pins["PA8"]
	require.False(t, ok)
}

func TestParseDictionaryErrors(t *testing.T) {
	_, err := ParseDictionary(nil)
	require.Error(t, err)
	_, err = ParseDictionary([]byte("not json"))
	require.Error(t, err)
	_, err = ParseDictionary([]byte(`{"commands": {"x": "nope"}}`))
	require.Error(t, err)
}

func TestParseIdentifyChunk(t *testing.T) {
	payload := protocol.AppendInt(nil, 40)
	payload = protocol.AppendInt(payload, 5)
	payload = append(payload, []byte("WORLD")...)

	offset, data, err := parseIdentifyChunk(payload)
	require.NoError(t, err)
	require.Equal(t, 40, offset)
	require.Equal(t, "WORLD", string(data))
}

func TestParseIdentifyChunkMalformed(t *testing.T) {
	// Declared length exceeds what follows.
	payload := protocol.AppendInt(nil, 0)
	payload = protocol.AppendInt(payload, 10)
	payload = append(payload, "abc"...)
	_, _, err := parseIdentifyChunk(payload)
	require.Error(t, err)

	// Truncated before the length field.
	_, _, err = parseIdentifyChunk(protocol.AppendInt(nil, 0))
	require.Error(t, err)

	_, _, err = parseIdentifyChunk(nil)
	require.Error(t, err)
}
