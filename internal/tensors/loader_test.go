package tensors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const richDoc = `{
	"ft.weight": [[0.5, -0.25], [1, 2]],
	"ft.bias": [0.1, 0.2],
	"fft.weight": [[0.1], [0.2]],
	"fft.bias": [0.3, 0.4],
	"psqt.weight": [[1, 2, 3]],
	"out.weight": [[1, 2, 3, 4]],
	"out.bias": [0.5],
	"meta.epoch": 40
}`

func TestLoadRichAliases(t *testing.T) {
	net, err := Load([]byte(richDoc), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{0.5, -0.25}, {1, 2}}, net.PerspectiveWeight)
	assert.Equal(t, []float64{0.1, 0.2}, net.PerspectiveBias)
	assert.Equal(t, [][]float64{{0.1}, {0.2}}, net.FactoriserWeight)
	assert.Equal(t, []float64{0.3, 0.4}, net.FactoriserBias)
	assert.Equal(t, [][]float64{{1, 2, 3}}, net.PSQTWeight)
	assert.Equal(t, [][]float64{{1, 2, 3, 4}}, net.OutputWeight)
	assert.Equal(t, []float64{0.5}, net.OutputBias)
	assert.True(t, net.HasFactoriser())
	assert.True(t, net.HasPSQT())
}

func TestLoadRichCanonicalWinsOverAlias(t *testing.T) {
	doc := `{"perspective.weight": [[1]], "ft.weight": [[9]], "perspective.bias": [1],
		"out.weight": [[1, 1]], "out.bias": [0]}`
	net, err := Load([]byte(doc), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}}, net.PerspectiveWeight)
}

func TestLoadRichOptionalAbsent(t *testing.T) {
	doc := `{"perspective.weight": [[1]], "perspective.bias": [1], "out.weight": [[1, 1]], "out.bias": [0]}`
	net, err := Load([]byte(doc), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, net.HasFactoriser())
	assert.False(t, net.HasPSQT())
	assert.Nil(t, net.FactoriserBias)
}

func TestLoadRichRejectsDuplicateKey(t *testing.T) {
	doc := `{"perspective.weight": [[1]], "perspective.bias": [1], "out.weight": [[1, 1]],
		"out.bias": [0], "out.bias": [3]}`
	_, err := Load([]byte(doc), DefaultOptions())
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "out.bias", schemaErr.Key)
}

func TestLoadCustomLayerNames(t *testing.T) {
	doc := `{"l0.weight": [[1]], "l0.bias": [1], "l1.weight": [[1, 1]], "l1.bias": [0]}`
	net, err := Load([]byte(doc), Options{Mode: ModeRich, FeatureName: "l0", OutputName: "l1"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, net.OutputBias)
}

func TestLoadMissingFieldSuggestsKey(t *testing.T) {
	doc := `{"l0.weight": [[1]], "l0.bias": [1], "out.weight": [[1, 1]], "out.bias": [0]}`
	_, err := Load([]byte(doc), DefaultOptions())

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "perspective.weight", schemaErr.Key)
	assert.Equal(t, "l0.weight", schemaErr.Suggestion)
	assert.Contains(t, err.Error(), `did you mean "l0.weight"?`)
}

func TestLoadMissingOutputNoSuggestion(t *testing.T) {
	doc := `{"out.weight": [[1, 1]], "perspective.weight": [[1]], "perspective.bias": [1]}`
	_, err := Load([]byte(doc), DefaultOptions())

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "out.bias", schemaErr.Key)
	assert.Empty(t, schemaErr.Suggestion)
}

func TestLoadWrongType(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		key  string
	}{
		{"vector for matrix", `{"perspective.weight": [1, 2], "perspective.bias": [1], "out.weight": [[1]], "out.bias": [0]}`, "perspective.weight"},
		{"string in vector", `{"perspective.weight": [[1]], "perspective.bias": ["a"], "out.weight": [[1]], "out.bias": [0]}`, "perspective.bias"},
		{"null matrix", `{"perspective.weight": null, "perspective.bias": [1], "out.weight": [[1]], "out.bias": [0]}`, "perspective.weight"},
		{"object for optional", `{"perspective.weight": [[1]], "perspective.bias": [1], "factoriser.bias": {"a": 1}, "out.weight": [[1]], "out.bias": [0]}`, "factoriser.bias"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc), DefaultOptions())
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tt.key, schemaErr.Key)
		})
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	for _, doc := range []string{``, `[1, 2]`, `{"perspective.weight": [[1],`, `{"a": 1`} {
		_, err := Load([]byte(doc), DefaultOptions())
		var parseErr *ParseError
		assert.True(t, errors.As(err, &parseErr), "doc %q: got %v", doc, err)
	}
}

func TestLoadStrict(t *testing.T) {
	opts := Options{Mode: ModeStrict, FeatureName: "perspective", OutputName: "out"}

	t.Run("exact four fields", func(t *testing.T) {
		doc := `{"perspective.weight": [[1]], "perspective.bias": [1], "out.weight": [[1, 1]], "out.bias": [0]}`
		net, err := Load([]byte(doc), opts)
		require.NoError(t, err)
		assert.Nil(t, net.FactoriserWeight)
	})

	t.Run("extra field rejected", func(t *testing.T) {
		_, err := Load([]byte(richDoc), opts)
		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Contains(t, err.Error(), "expected exactly 4 fields")
		assert.Contains(t, err.Error(), "found 8")
	})

	t.Run("missing field rejected", func(t *testing.T) {
		doc := `{"perspective.weight": [[1]], "perspective.bias": [1], "out.weight": [[1, 1]]}`
		_, err := Load([]byte(doc), opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "found 3")
	})

	t.Run("duplicate field rejected", func(t *testing.T) {
		doc := `{"perspective.weight": [[1]], "perspective.weight": [[2]], "perspective.bias": [1],
			"out.weight": [[1, 1]], "out.bias": [0]}`
		_, err := Load([]byte(doc), opts)
		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, "perspective.weight", schemaErr.Key)
		assert.Contains(t, err.Error(), "duplicate field")
	})

	t.Run("alias not accepted", func(t *testing.T) {
		doc := `{"ft.weight": [[1]], "ft.bias": [1], "out.weight": [[1, 1]], "out.bias": [0]}`
		_, err := Load([]byte(doc), opts)
		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, "perspective.weight", schemaErr.Key)
		assert.Equal(t, "ft.weight", schemaErr.Suggestion)
	})
}

func TestDescribe(t *testing.T) {
	net, err := Load([]byte(richDoc), DefaultOptions())
	require.NoError(t, err)
	d := net.Describe()
	assert.Equal(t, "[2][2]", d["perspective.weight"])
	assert.Equal(t, "[1][4]", d["out.weight"])
	assert.Equal(t, "[1][3]", d["psqt.weight"])
	assert.Equal(t, "[2]", d["factoriser.bias"])
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "rich", ModeRich.String())
	assert.Equal(t, "strict", ModeStrict.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}
