package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"

	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/pixveil/pixveil/mod/imagecache"
)

const (
	// ReasonableDimension is the edge length under which a source image
	// is considered already small enough to skip transcoding
	ReasonableDimension = 800

	// MinSavingsBytes is the minimum absolute size reduction a candidate
	// must achieve to replace the source bytes
	MinSavingsBytes = 512

	// Mobile width clamps
	MobileMaxWidthAggressive = 400
	MobileMaxWidthStandard   = 600

	// DefaultQuality applies when the caller supplies no usable quality
	DefaultQuality = 0.8
)

// EncoderFunc encodes an image at the given quality in (0,1]
type EncoderFunc func(w io.Writer, img image.Image, quality float64) error

// Options controls a single transcode
type Options struct {
	// Quality is the caller-supplied default quality in (0,1]; the
	// engine may lower it based on the delivery context
	Quality float64

	// MaxWidth bounds the delivered width in pixels (0 = unbounded)
	MaxWidth int

	// PreferWebP allows WebP output when an encoder is available
	PreferWebP bool

	// ContentType of the source bytes, passed through on decline
	ContentType string

	// Delivery carries the client context signals
	Delivery DeliveryContext
}

// Result is the outcome of a transcode. The engine never fails: when
// transcoding cannot help, or the source cannot be decoded, it declines
// and hands the source bytes back with UsedOriginal set. A decline caused
// by undecodable source bytes carries the cause in Err (wrapping
// ErrDecodeFailed) so callers can log it; guard declines leave Err nil.
type Result struct {
	Payload      []byte
	ContentType  string
	Format       imagecache.Format
	UsedOriginal bool
	Width        int
	Height       int
	Err          error
}

// Engine decides whether and how to re-encode a source image for a given
// delivery context and produces the smaller of transcoded and original
type Engine struct {
	webpEncoder EncoderFunc
}

// NewEngine creates a transcoding engine. The pure-Go build has no WebP
// encoder; one can be registered at wiring time.
func NewEngine() *Engine {
	return &Engine{}
}

// RegisterWebPEncoder enables WebP output
func (e *Engine) RegisterWebPEncoder(fn EncoderFunc) {
	e.webpEncoder = fn
}

// WebPSupported reports whether the engine can encode WebP
func (e *Engine) WebPSupported() bool {
	return e.webpEncoder != nil
}

// Transcode re-encodes src for the delivery context described by opts
func (e *Engine) Transcode(ctx context.Context, src []byte, opts Options) *Result {
	original := &Result{
		Payload:      src,
		ContentType:  opts.ContentType,
		Format:       imagecache.FormatSource,
		UsedOriginal: true,
	}

	select {
	case <-ctx.Done():
		return original
	default:
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		// Unsupported or corrupt source: use original, never raise
		original.Err = fmt.Errorf("%w: %v", imagecache.ErrDecodeFailed, err)
		return original
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	original.Width, original.Height = srcW, srcH

	quality := e.selectQuality(opts.Quality, opts.Delivery)
	targetW := e.selectWidth(srcW, opts.MaxWidth, opts.Delivery)

	scaled := img
	outW, outH := srcW, srcH
	if targetW > 0 && targetW < srcW {
		outW = targetW
		outH = srcH * targetW / srcW
		if outH < 1 {
			outH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		scaled = dst
	}

	var buf bytes.Buffer
	format := imagecache.FormatJPEG
	contentType := "image/jpeg"
	if opts.PreferWebP && e.webpEncoder != nil {
		if err := e.webpEncoder(&buf, scaled, quality); err != nil {
			return original
		}
		format = imagecache.FormatWebP
		contentType = "image/webp"
	} else {
		opt := &jpeg.Options{Quality: int(quality*100 + 0.5)}
		if err := jpeg.Encode(&buf, scaled, opt); err != nil {
			return original
		}
	}

	// Beneficial-transcode guard: a source that is already reasonably
	// sized, or a candidate that barely shrinks it, is not worth the
	// bytes churn across the tiers
	if srcW <= ReasonableDimension && srcH <= ReasonableDimension {
		return original
	}
	if int64(len(src))-int64(buf.Len()) <= MinSavingsBytes {
		return original
	}

	return &Result{
		Payload:     buf.Bytes(),
		ContentType: contentType,
		Format:      format,
		Width:       outW,
		Height:      outH,
	}
}

// selectQuality applies the network- and device-aware quality table
func (e *Engine) selectQuality(base float64, dc DeliveryContext) float64 {
	if base <= 0 || base > 1 {
		base = DefaultQuality
	}

	if dc.Mobile() {
		if dc.Aggressive {
			switch {
			case dc.slowNetwork():
				return 0.3
			case dc.EffectiveType == Network3G:
				return 0.4
			default:
				return 0.5
			}
		}
		switch {
		case dc.slowNetwork():
			return 0.5
		case dc.EffectiveType == Network3G:
			return 0.6
		default:
			return 0.7
		}
	}

	switch {
	case dc.slowNetwork():
		return 0.6
	case dc.EffectiveType == Network3G:
		return 0.7
	default:
		return base
	}
}

// selectWidth clamps the target width for the delivery context. The
// result never exceeds the source width, so images are never upscaled.
func (e *Engine) selectWidth(srcW, maxWidth int, dc DeliveryContext) int {
	target := maxWidth
	if dc.Mobile() {
		clamp := MobileMaxWidthStandard
		if dc.Aggressive {
			clamp = MobileMaxWidthAggressive
		}
		if target == 0 || target > clamp {
			target = clamp
		}
	}
	if target >= srcW {
		return 0
	}
	return target
}
