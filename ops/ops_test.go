package ops

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/gomlx/compute/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSample builds a sample with an 8x6 jpeg under "jpg" and a label under "cls".
func testSample(t *testing.T) Sample {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return Sample{
		"jpg": buf.Bytes(),
		"cls": []byte("7"),
	}
}

func TestSelect(t *testing.T) {
	sample := testSample(t)
	value, err := Select("cls").Apply(sample)
	require.NoError(t, err)
	assert.Equal(t, []byte("7"), value.Bytes)
	assert.Nil(t, value.Image)

	_, err = Select("wav").Apply(sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"wav"`)
}

func TestDecodeConvertResize(t *testing.T) {
	sample := testSample(t)
	pipeline := Resize(Convert(Decode("jpg"), dtypes.Float32), 4, 3)
	assert.Equal(t, "jpg", pipeline.Key())

	value, err := pipeline.Apply(sample)
	require.NoError(t, err)
	require.NotNil(t, value.Image)
	bounds := value.Image.Bounds()
	assert.Equal(t, 4, bounds.Dx())
	assert.Equal(t, 3, bounds.Dy())
	assert.Equal(t, dtypes.Float32, value.DType)

	width, height, found := FixedSize(pipeline)
	require.True(t, found)
	assert.Equal(t, 4, width)
	assert.Equal(t, 3, height)
	assert.Equal(t, dtypes.Float32, PipelineDType(pipeline, dtypes.Float64))

	// No Resize, no Convert in the pipeline:
	_, _, found = FixedSize(Decode("jpg"))
	assert.False(t, found)
	assert.Equal(t, dtypes.Float64, PipelineDType(Decode("jpg"), dtypes.Float64))
}

func TestDecodeCorruptImage(t *testing.T) {
	sample := Sample{"jpg": []byte("not an image")}
	_, err := Decode("jpg").Apply(sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"jpg"`)
}

func TestResizeRequiresImage(t *testing.T) {
	sample := testSample(t)
	_, err := Resize(Select("cls"), 4, 3).Apply(sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Decode")

	assert.Panics(t, func() { Resize(Decode("jpg"), 0, 3) })
}
