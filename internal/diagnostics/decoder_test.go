package diagnostics

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Generated lines 1-3 map to lines 2-4 of src/a.js
const testSourceMap = `{"version":3,"sources":["virtual:src/a.js"],"names":[],"mappings":"AACA;AACA;AACA"}`

func withInlineMap(code, sourceMap string) string {
	return code + "\n//# sourceMappingURL=data:application/json;base64," +
		base64.StdEncoding.EncodeToString([]byte(sourceMap)) + "\n"
}

func sourcesOf(handles map[string]string) SourceFunc {
	return func(handle string) (string, bool) {
		code, ok := handles[handle]
		return code, ok
	}
}

func TestExtractInlineSourceMap(t *testing.T) {
	data, err := ExtractInlineSourceMap(withInlineMap("a()", testSourceMap))
	require.NoError(t, err)
	assert.JSONEq(t, testSourceMap, string(data))

	_, err = ExtractInlineSourceMap("a()")
	assert.ErrorIs(t, err, ErrNoSourceMap)

	_, err = ExtractInlineSourceMap("//# sourceMappingURL=data:application/json;base64,@@@")
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	code := withInlineMap("a()\nb()\nc()", testSourceMap)
	source := sourcesOf(map[string]string{"blob:surfpack/abc": code})

	stack := "Error: boom\n" +
		"\tat fail (blob:surfpack/abc:2:5(3))\n" +
		"\tat blob:surfpack/abc:1:1(0)\n" +
		"\tat other (blob:surfpack/gone:1:1(0))\n" +
		"\tat native\n"

	frames, err := NewDecoder().Decode(stack, source)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, "fail", frames[0].FunctionName)
	assert.Equal(t, "blob:surfpack/abc", frames[0].Handle)
	assert.Equal(t, Position{Line: 2, Column: 5}, frames[0].Compiled)
	assert.Equal(t, OriginalPosition{Source: "virtual:src/a.js", Line: 3, Column: 1}, frames[0].Original)

	assert.Equal(t, "", frames[1].FunctionName)
	assert.Equal(t, 2, frames[1].Original.Line)
}

func TestDecodeWithoutMap(t *testing.T) {
	d := NewDecoder()
	source := sourcesOf(map[string]string{"blob:surfpack/plain": "a()"})

	frames, err := d.Decode("at blob:surfpack/plain:1:1(0)", source)
	assert.ErrorIs(t, err, ErrNoSourceMap)
	assert.Empty(t, frames)

	frames, err = d.Decode("at blob:surfpack/unknown:1:1(0)", source)
	assert.NoError(t, err)
	assert.Empty(t, frames)
}

func TestDecoderFollowsHandles(t *testing.T) {
	handles := map[string]string{"blob:surfpack/one": withInlineMap("a()\nb()\nc()", testSourceMap)}
	d := NewDecoder()

	frames, err := d.Decode("at blob:surfpack/one:1:1(0)", sourcesOf(handles))
	require.NoError(t, err)
	require.Len(t, frames, 1)

	// A revoked handle is no longer decoded even though its map was cached
	delete(handles, "blob:surfpack/one")
	frames, err = d.Decode("at blob:surfpack/one:1:1(0)", sourcesOf(handles))
	require.NoError(t, err)
	assert.Empty(t, frames)
}
