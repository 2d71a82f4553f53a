package ngram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/typegram/internal/model"
)

type key struct {
	typed    string
	expected string
	delta    int64
}

func buildKeys(t *testing.T, keys ...key) []model.Keystroke {
	t.Helper()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	out := make([]model.Keystroke, len(keys))
	at := base
	for i, k := range keys {
		at = at.Add(time.Duration(k.delta) * time.Millisecond)
		ks := model.Keystroke{
			SessionID: "s1",
			Index:     i,
			Time:      at,
			Typed:     k.typed,
			Expected:  k.expected,
			Correct:   k.typed == k.expected,
		}
		if i > 0 {
			d := k.delta
			ks.SincePrevMs = &d
		}
		out[i] = ks
	}
	return out
}

func texts(ws []model.Window) map[string]int64 {
	out := map[string]int64{}
	for _, w := range ws {
		out[w.Text] = w.TotalTimeMs
	}
	return out
}

func TestGenerateAllCorrect(t *testing.T) {
	keys := buildKeys(t,
		key{"T", "T", 0},
		key{"h", "h", 500},
		key{"e", "e", 1000},
		key{"n", "n", 300},
	)
	res, err := Generate(keys, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, res.Sizes())

	assert.Equal(t, map[string]int64{"Th": 500, "he": 1000, "en": 300}, texts(res.BySize[2].Clean))
	assert.Equal(t, map[string]int64{"The": 1500, "hen": 1300}, texts(res.BySize[3].Clean))
	assert.Equal(t, map[string]int64{"Then": 1800}, texts(res.BySize[4].Clean))
	for _, size := range res.Sizes() {
		assert.Empty(t, res.BySize[size].Errors, "size %d", size)
	}
}

func TestGenerateBackspaceExcludesWindows(t *testing.T) {
	keys := buildKeys(t,
		key{"G", "T", 0},
		key{Backspace, "T", 500},
		key{"T", "T", 1000},
		key{"h", "h", 300},
		key{"e", "e", 170},
	)
	res, err := Generate(keys, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Th": 300, "he": 170}, texts(res.BySize[2].Clean))
	assert.Equal(t, map[string]int64{"The": 470}, texts(res.BySize[3].Clean))
	assert.Empty(t, res.BySize[2].Errors)
	assert.Empty(t, res.BySize[3].Errors)
}

func TestGenerateErrorOnLast(t *testing.T) {
	keys := buildKeys(t,
		key{"t", "t", 0},
		key{"h", "h", 120},
		key{"e", "e", 140},
	)
	keys[2].Correct = false

	res, err := Generate(keys, 2, 3)
	require.NoError(t, err)
	require.Len(t, res.BySize[2].Errors, 1)
	assert.Equal(t, "he", res.BySize[2].Errors[0].Text)
	require.Len(t, res.BySize[3].Errors, 1)
	assert.Equal(t, "the", res.BySize[3].Errors[0].Text)
	assert.Equal(t, map[string]int64{"th": 120}, texts(res.BySize[2].Clean))
	assert.Empty(t, res.BySize[3].Clean)
}

func TestGenerateErrorBeforeLastIsExcluded(t *testing.T) {
	keys := buildKeys(t,
		key{"r", "t", 0},
		key{"h", "h", 120},
		key{"e", "e", 140},
	)
	res, err := Generate(keys, 2, 3)
	require.NoError(t, err)
	assert.Empty(t, res.BySize[3].Clean)
	assert.Empty(t, res.BySize[3].Errors)
	assert.Equal(t, map[string]int64{"he": 140}, texts(res.BySize[2].Clean))
	assert.Empty(t, res.BySize[2].Errors)
}

func TestGenerateErrorTextUsesTypedChars(t *testing.T) {
	keys := buildKeys(t,
		key{"a", "a", 0},
		key{"G", "T", 200},
	)
	res, err := Generate(keys, 2, 2)
	require.NoError(t, err)
	require.Len(t, res.BySize[2].Errors, 1)
	assert.Equal(t, "aG", res.BySize[2].Errors[0].Text)
}

func TestClassifyWhitespaceAlwaysExcluded(t *testing.T) {
	for _, keys := range [][]model.Keystroke{
		buildKeys(t, key{"a", "a", 0}, key{" ", " ", 100}),
		buildKeys(t, key{" ", " ", 0}, key{"a", "a", 100}),
		buildKeys(t, key{"a", "a", 0}, key{"\t", "b", 100}),
		buildKeys(t, key{"a", "a", 0}, key{" ", "b", 100}, key{"c", "c", 100}),
	} {
		w := Classify(keys)
		assert.Equal(t, model.Excluded, w.Class, "window %q", w.Text)
	}
}

func TestClassifyZeroDurationIsExcluded(t *testing.T) {
	keys := buildKeys(t, key{"a", "a", 0}, key{"b", "b", 0})
	assert.Equal(t, model.Excluded, Classify(keys).Class)

	single := buildKeys(t, key{"a", "a", 0})
	assert.Equal(t, model.Clean, Classify(single).Class)
}

func TestTotalTimeIgnoresFirstDelta(t *testing.T) {
	keys := buildKeys(t,
		key{"x", "x", 0},
		key{"a", "a", 900},
		key{"b", "b", 50},
		key{"c", "c", 70},
	)
	w := Classify(keys[1:])
	assert.Equal(t, int64(120), w.TotalTimeMs)
	assert.Equal(t, model.Clean, w.Class)
}

func TestGenerateShortInput(t *testing.T) {
	keys := buildKeys(t, key{"a", "a", 0}, key{"b", "b", 100}, key{"c", "c", 100})
	res, err := Generate(keys, 2, 10)
	require.NoError(t, err)
	assert.Len(t, res.BySize[2].Clean, 2)
	assert.Len(t, res.BySize[3].Clean, 1)
	for size := 4; size <= 10; size++ {
		assert.Empty(t, res.BySize[size].Clean, "size %d", size)
	}

	res, err = Generate(keys[:1], 2, 8)
	require.NoError(t, err)
	for _, size := range res.Sizes() {
		assert.Empty(t, res.BySize[size].Clean)
		assert.Empty(t, res.BySize[size].Errors)
	}
}

func TestGenerateSkipsMalformed(t *testing.T) {
	keys := buildKeys(t,
		key{"a", "a", 0},
		key{"b", "b", 100},
		key{"c", "c", 100},
		key{"d", "d", 100},
	)
	keys[1].Time = time.Time{}

	res, err := Generate(keys, 2, 3)
	require.NoError(t, err)
	require.Len(t, res.Malformed, 1)
	assert.Equal(t, 1, res.Malformed[0].Index)
	assert.Equal(t, "missing timestamp", res.Malformed[0].Reason)
	assert.Equal(t, map[string]int64{"cd": 100}, texts(res.BySize[2].Clean))
	assert.Equal(t, 2, res.BySize[2].Clean[0].Start)
	assert.Empty(t, res.BySize[3].Clean)
}

func TestGenerateMalformedSplitsErrorWindows(t *testing.T) {
	keys := buildKeys(t,
		key{"a", "a", 0},
		key{"b", "b", 100},
		key{"c", "c", 100},
		key{"x", "d", 100},
	)
	keys[2].Typed = ""

	res, err := Generate(keys, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ab": 100}, texts(res.BySize[2].Clean))
	assert.Empty(t, res.BySize[2].Errors)
}

func TestSplit(t *testing.T) {
	keys := buildKeys(t,
		key{"a", "a", 0},
		key{"b", "b", 100},
		key{"c", "c", 100},
		key{"d", "d", 100},
		key{"e", "e", 100},
	)
	keys[0].Typed = ""
	keys[2].Time = time.Time{}

	runs, malformed := Split(keys)
	require.Len(t, malformed, 2)
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0].Offset)
	assert.Equal(t, "b", Text(runs[0].Keys))
	assert.Equal(t, 3, runs[1].Offset)
	assert.Equal(t, "de", Text(runs[1].Keys))

	valid, _ := Sanitize(keys)
	assert.Equal(t, "bde", Text(valid))
}

func TestClassifyUnknownDeltaIsExcluded(t *testing.T) {
	keys := buildKeys(t, key{"a", "a", 0}, key{"b", "b", 100}, key{"c", "c", 100})
	keys[2].SincePrevMs = nil

	res, err := Generate(keys, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ab": 100}, texts(res.BySize[2].Clean))
	assert.Empty(t, res.BySize[3].Clean)

	keys[2].Correct = false
	assert.Equal(t, model.Excluded, Classify(keys[1:]).Class)

	keys[0].SincePrevMs = nil
	assert.Equal(t, model.Clean, Classify(keys[:2]).Class)
}

func TestGenerateInvalidRange(t *testing.T) {
	_, err := Generate(nil, 0, 3)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = Generate(nil, 4, 3)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "clean", model.Clean.String())
	assert.Equal(t, "error", model.ErrorOnLast.String())
	assert.Equal(t, "excluded", model.Excluded.String())
}
