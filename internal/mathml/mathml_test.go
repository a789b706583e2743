package mathml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProducesMath(t *testing.T) {
	out, err := Render(`\frac{a}{b}`)
	require.NoError(t, err)
	assert.Contains(t, out, "<math")
	assert.Contains(t, out, "mfrac")
}

func TestRenderEmpty(t *testing.T) {
	out, err := Render("  $$  $$ ")
	require.NoError(t, err)
	assert.Empty(t, out)
}
