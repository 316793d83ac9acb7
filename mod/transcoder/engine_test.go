package transcoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixveil/pixveil/mod/imagecache"
)

// noisyPNG builds a PNG that compresses poorly, so a lossy re-encode
// always wins by a wide margin
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTranscode_DeclinesSmallSource(t *testing.T) {
	engine := NewEngine()
	src := noisyPNG(t, 200, 200)

	result := engine.Transcode(context.Background(), src, Options{
		ContentType: "image/png",
	})

	// Both dimensions under the threshold: the source passes through
	// untouched no matter how compressible it is
	assert.True(t, result.UsedOriginal)
	assert.Equal(t, src, result.Payload)
	assert.Equal(t, "image/png", result.ContentType)
	assert.Equal(t, 200, result.Width)
	assert.Equal(t, 200, result.Height)

	// A guard decline is not a failure
	assert.NoError(t, result.Err)
}

func TestTranscode_DeclinesUndecodableSource(t *testing.T) {
	engine := NewEngine()
	src := []byte("definitely not an image")

	result := engine.Transcode(context.Background(), src, Options{
		ContentType: "application/octet-stream",
	})

	assert.True(t, result.UsedOriginal)
	assert.Equal(t, src, result.Payload)
	assert.Equal(t, "application/octet-stream", result.ContentType)

	// The decline carries its cause for callers that want to log it
	assert.ErrorIs(t, result.Err, imagecache.ErrDecodeFailed)
}

func TestTranscode_LargeSource(t *testing.T) {
	engine := NewEngine()
	src := noisyPNG(t, 1600, 1200)

	result := engine.Transcode(context.Background(), src, Options{
		ContentType: "image/png",
	})

	require.False(t, result.UsedOriginal)
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.Equal(t, imagecache.FormatJPEG, result.Format)
	assert.Less(t, len(result.Payload), len(src))
	assert.Equal(t, 1600, result.Width)
	assert.Equal(t, 1200, result.Height)
}

func TestTranscode_MobileWidthClamp(t *testing.T) {
	engine := NewEngine()
	src := noisyPNG(t, 1600, 1200)

	result := engine.Transcode(context.Background(), src, Options{
		ContentType: "image/png",
		Delivery:    DeliveryContext{ViewportWidth: 375},
	})
	require.False(t, result.UsedOriginal)
	assert.Equal(t, MobileMaxWidthStandard, result.Width)
	assert.Equal(t, 450, result.Height)

	result = engine.Transcode(context.Background(), src, Options{
		ContentType: "image/png",
		Delivery:    DeliveryContext{ViewportWidth: 375, Aggressive: true},
	})
	require.False(t, result.UsedOriginal)
	assert.Equal(t, MobileMaxWidthAggressive, result.Width)
	assert.Equal(t, 300, result.Height)
}

func TestTranscode_ContextCancelled(t *testing.T) {
	engine := NewEngine()
	src := noisyPNG(t, 1600, 1200)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := engine.Transcode(ctx, src, Options{ContentType: "image/png"})
	assert.True(t, result.UsedOriginal)
}

func TestTranscode_WebPRequiresEncoder(t *testing.T) {
	engine := NewEngine()
	assert.False(t, engine.WebPSupported())
	src := noisyPNG(t, 1600, 1200)

	// Without an encoder the WebP preference degrades to JPEG
	result := engine.Transcode(context.Background(), src, Options{
		ContentType: "image/png",
		PreferWebP:  true,
	})
	require.False(t, result.UsedOriginal)
	assert.Equal(t, imagecache.FormatJPEG, result.Format)

	engine.RegisterWebPEncoder(func(w io.Writer, img image.Image, quality float64) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: int(quality * 100)})
	})
	assert.True(t, engine.WebPSupported())

	result = engine.Transcode(context.Background(), src, Options{
		ContentType: "image/png",
		PreferWebP:  true,
	})
	require.False(t, result.UsedOriginal)
	assert.Equal(t, imagecache.FormatWebP, result.Format)
	assert.Equal(t, "image/webp", result.ContentType)
}

func TestSelectWidth_NeverUpscales(t *testing.T) {
	engine := NewEngine()

	// A bound wider than the source means no resize at all
	assert.Equal(t, 0, engine.selectWidth(300, 600, DeliveryContext{}))
	assert.Equal(t, 0, engine.selectWidth(300, 0, DeliveryContext{}))

	// Mobile clamps never widen a narrow source either
	assert.Equal(t, 0, engine.selectWidth(300, 0, DeliveryContext{ViewportWidth: 375}))
	assert.Equal(t, 600, engine.selectWidth(1600, 0, DeliveryContext{ViewportWidth: 375}))
	assert.Equal(t, 400, engine.selectWidth(1600, 0, DeliveryContext{ViewportWidth: 375, Aggressive: true}))

	// An explicit bound tighter than the clamp wins
	assert.Equal(t, 320, engine.selectWidth(1600, 320, DeliveryContext{ViewportWidth: 375}))
}

func TestSelectQuality(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name string
		base float64
		dc   DeliveryContext
		want float64
	}{
		{"desktop default", 0.8, DeliveryContext{}, 0.8},
		{"desktop 3g", 0.8, DeliveryContext{EffectiveType: Network3G}, 0.7},
		{"desktop 2g", 0.8, DeliveryContext{EffectiveType: Network2G}, 0.6},
		{"desktop slow-2g", 0.8, DeliveryContext{EffectiveType: NetworkSlow2G}, 0.6},
		{"mobile 4g", 0.8, DeliveryContext{ViewportWidth: 375, EffectiveType: Network4G}, 0.7},
		{"mobile 3g", 0.8, DeliveryContext{ViewportWidth: 375, EffectiveType: Network3G}, 0.6},
		{"mobile 2g", 0.8, DeliveryContext{ViewportWidth: 375, EffectiveType: Network2G}, 0.5},
		{"mobile aggressive 4g", 0.8, DeliveryContext{ViewportWidth: 375, EffectiveType: Network4G, Aggressive: true}, 0.5},
		{"mobile aggressive 3g", 0.8, DeliveryContext{ViewportWidth: 375, EffectiveType: Network3G, Aggressive: true}, 0.4},
		{"mobile aggressive slow-2g", 0.8, DeliveryContext{ViewportWidth: 375, EffectiveType: NetworkSlow2G, Aggressive: true}, 0.3},
		{"unusable base falls back", 0, DeliveryContext{}, DefaultQuality},
		{"wide viewport is desktop", 0.8, DeliveryContext{ViewportWidth: 1920, EffectiveType: Network4G}, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, engine.selectQuality(tt.base, tt.dc), 0.001)
		})
	}
}

func TestDeliveryContext_Mobile(t *testing.T) {
	assert.False(t, DeliveryContext{}.Mobile(), "unknown viewport is desktop")
	assert.True(t, DeliveryContext{ViewportWidth: 375}.Mobile())
	assert.False(t, DeliveryContext{ViewportWidth: MobileViewportCutoff}.Mobile())
}
