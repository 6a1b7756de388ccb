package codec

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestEncodeDecode(t *testing.T) {
	c := NewJPEG(90)
	data, err := c.Encode(testImage(32, 24, color.RGBA{200, 10, 10, 255}))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xD8}))
	assert.True(t, bytes.HasSuffix(data, []byte{0xFF, 0xD9}))

	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())

	r, _, _, _ := img.At(5, 5).RGBA()
	assert.Greater(t, r>>8, uint32(150))
}

func TestEncodeReturnsIndependentBuffers(t *testing.T) {
	c := NewJPEG(80)
	a, err := c.Encode(testImage(8, 8, color.White))
	require.NoError(t, err)
	snapshot := append([]byte(nil), a...)

	_, err = c.Encode(testImage(16, 16, color.Black))
	require.NoError(t, err)
	assert.Equal(t, snapshot, a)
}

func TestEncodeEmpty(t *testing.T) {
	c := NewJPEG(80)
	_, err := c.Encode(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = c.Encode(image.NewRGBA(image.Rectangle{}))
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = Decode([]byte("not a jpeg"))
	assert.Error(t, err)
}

func TestQualityClamp(t *testing.T) {
	assert.Equal(t, DefaultQuality, NewJPEG(0).Quality())
	assert.Equal(t, DefaultQuality, NewJPEG(101).Quality())
	assert.Equal(t, 55, NewJPEG(55).Quality())
}

func TestSplitJPEG(t *testing.T) {
	c := NewJPEG(70)
	var frames [][]byte
	var stream bytes.Buffer
	stream.WriteString("garbage")
	for i := 0; i < 3; i++ {
		f, err := c.Encode(testImage(8+i, 8, color.Gray{uint8(40 * i)}))
		require.NoError(t, err)
		frames = append(frames, f)
		stream.Write(f)
	}
	stream.Write([]byte{0xFF, 0xD8, 0x00}) // truncated tail

	sc := bufio.NewScanner(bufio.NewReaderSize(&stream, 16))
	sc.Buffer(make([]byte, 0, 64), 1<<20)
	sc.Split(SplitJPEG)

	var got [][]byte
	for sc.Scan() {
		got = append(got, append([]byte(nil), sc.Bytes()...))
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, frames, got)
}
