package postprocess

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
)

func TestConvertAlignToEquations(t *testing.T) {
	got := ConvertAlignToEquations(`\begin{align*}x&=1\\y&=2\end{align*}`)
	assert.Equal(t, "$$ x=1 $$\n$$ y=2 $$", got)
}

func TestConvertAlignDropsEmptyRows(t *testing.T) {
	got := ConvertAlignToEquations("\\begin{align*}\na &= b \\\\\n\\\\ c &= d\n\\end{align*}")
	assert.Equal(t, "$$ a = b $$\n$$ c = d $$", got)
}

func TestUseDollars(t *testing.T) {
	p := New(nil)
	got, err := p.Process(`\(x\)`, Options{UseDollars: true})
	require.NoError(t, err)
	assert.Equal(t, "$x$", got)
}

func TestNormalizeDelimiters(t *testing.T) {
	assert.Equal(t, `\begin{align*}a=5\%\end{align*}`, NormalizeDelimiters(`\[a=5%\]`))
}

func TestProcessOrder(t *testing.T) {
	p := New(nil)

	// display brackets become align*, which convert_align then flattens
	got, err := p.Process(`\[x&=1\\y&=2\]`, Options{ConvertAlign: true})
	require.NoError(t, err)
	assert.Equal(t, "$$ x=1 $$\n$$ y=2 $$", got)

	got, err = p.Process(`where \(a\) is \[a=1\]`, Options{UseDollars: true})
	require.NoError(t, err)
	assert.Equal(t, `where $a$ is \begin{align*}a=1\end{align*}`, got)
}

func TestProcessTypst(t *testing.T) {
	var seen string
	p := New(ConverterFunc(func(s string) (string, error) {
		seen = s
		return "typst:" + s, nil
	}))

	got, err := p.Process(`\(x\)`, Options{UseDollars: true, UseTypst: true})
	require.NoError(t, err)
	assert.Equal(t, "$x$", seen)
	assert.Equal(t, "typst:$x$", got)
}

func TestProcessTypstFailureDiscardsResult(t *testing.T) {
	p := New(ConverterFunc(func(string) (string, error) {
		return "partial", errors.New("unbalanced braces")
	}))

	got, err := p.Process(`\frac{1}{2`, Options{UseTypst: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrTypstConversionFailure)
	assert.Empty(t, got)

	_, err = New(nil).Process("x", Options{UseTypst: true})
	assert.ErrorIs(t, err, errdefs.ErrTypstConversionFailure)
}
