package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "checkpoint/pkg/domain-errors"
)

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h with no
// pixel data, enough for image.DecodeConfig.
func pngHeader(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	require.NoError(t, binary.Write(&ihdr, binary.BigEndian, w))
	require.NoError(t, binary.Write(&ihdr, binary.BigEndian, h))
	ihdr.Write([]byte{8, 0, 0, 0, 0}) // 8-bit grayscale

	var out bytes.Buffer
	out.WriteString("\x89PNG\r\n\x1a\n")
	require.NoError(t, binary.Write(&out, binary.BigEndian, uint32(ihdr.Len()-4)))
	out.Write(ihdr.Bytes())
	require.NoError(t, binary.Write(&out, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes())))
	return out.Bytes()
}

func TestUploaded(t *testing.T) {
	t.Run("decodes an acquired frame", func(t *testing.T) {
		src := NewUploaded(pngFrame(t, 4, 3), 0)
		require.NoError(t, src.Acquire(context.Background()))

		img, err := src.ReadFrame(context.Background())

		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
		assert.NoError(t, src.Release())
	})

	t.Run("cannot be read before acquire or after release", func(t *testing.T) {
		src := NewUploaded(pngFrame(t, 2, 2), 0)
		_, err := src.ReadFrame(context.Background())
		assert.ErrorIs(t, err, ErrNotAcquired)

		require.NoError(t, src.Acquire(context.Background()))
		require.NoError(t, src.Release())
		_, err = src.ReadFrame(context.Background())
		assert.ErrorIs(t, err, ErrNotAcquired)
	})

	t.Run("empty upload cannot be acquired", func(t *testing.T) {
		assert.Error(t, NewUploaded(nil, 0).Acquire(context.Background()))
	})

	t.Run("frame above the pixel limit is refused before decoding", func(t *testing.T) {
		src := NewUploaded(pngFrame(t, 20, 10), 199)
		require.NoError(t, src.Acquire(context.Background()))

		img, err := src.ReadFrame(context.Background())

		assert.Nil(t, img)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
		assert.Equal(t, dErrors.CodeValidation, dErrors.CodeOf(err))
	})

	t.Run("frame at the pixel limit decodes", func(t *testing.T) {
		src := NewUploaded(pngFrame(t, 20, 10), 200)
		require.NoError(t, src.Acquire(context.Background()))

		_, err := src.ReadFrame(context.Background())

		assert.NoError(t, err)
	})

	t.Run("huge declared dimensions are refused without allocating", func(t *testing.T) {
		src := NewUploaded(pngHeader(t, 20000, 20000), 0)
		require.NoError(t, src.Acquire(context.Background()))

		_, err := src.ReadFrame(context.Background())

		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("garbage does not decode", func(t *testing.T) {
		src := NewUploaded([]byte("not an image"), 0)
		require.NoError(t, src.Acquire(context.Background()))
		_, err := src.ReadFrame(context.Background())
		assert.Error(t, err)
	})
}

func TestFake(t *testing.T) {
	f := NewFakeFrame(8, 8)
	require.NoError(t, f.Acquire(context.Background()))
	assert.False(t, f.Balanced())

	img, err := f.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	require.NoError(t, f.Release())
	assert.True(t, f.Balanced())
	assert.Equal(t, 1, f.Acquires())
}
