package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/parley/pkg/types"
)

// errInvalidFormat is wrapped into the AudioProcessing error returned for
// non-positive rates or channel counts.
var errInvalidFormat = errors.New("invalid pcm format")

// Resample converts 16-bit little-endian PCM from src to dst using linear
// interpolation.
//
// When src equals dst the input slice itself is returned. Otherwise a new
// slice is allocated; pcm is never modified. A trailing partial frame is
// dropped and zero-length input yields zero-length output.
//
// Down-mixing to mono averages all source channels per frame before
// interpolation. dst.Channels must be 1 or equal to src.Channels.
//
// The output frame count is floor(srcFrames * dst.SampleRate / src.SampleRate),
// computed in integer arithmetic so it is exact for every rate pair. The
// fractional source position of output frame i is i * (src.SampleRate /
// dst.SampleRate) in float64. Both the channel average and the interpolated
// value are floored (toward negative infinity) before conversion to int16.
func Resample(pcm []byte, src, dst Format) ([]byte, error) {
	if src.SampleRate <= 0 || src.Channels <= 0 || dst.SampleRate <= 0 || dst.Channels <= 0 {
		return nil, types.NewError(types.KindAudioProcessing, "resample",
			fmt.Errorf("%w: %s -> %s", errInvalidFormat, formatString(src), formatString(dst)))
	}
	if dst.Channels != 1 && dst.Channels != src.Channels {
		return nil, types.NewError(types.KindAudioProcessing, "resample",
			fmt.Errorf("%w: cannot map %d channels to %d", errInvalidFormat, src.Channels, dst.Channels))
	}
	if src == dst {
		return pcm, nil
	}

	frameBytes := src.Channels * 2
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dst.SampleRate) / int64(src.SampleRate))
	out := make([]byte, dstFrames*dst.Channels*2)
	if dstFrames == 0 {
		return out, nil
	}

	ratio := float64(src.SampleRate) / float64(dst.SampleRate)
	mix := dst.Channels == 1 && src.Channels > 1

	// sampleAt returns channel ch of source frame f, down-mixed when mix is set.
	sampleAt := func(f, ch int) float64 {
		base := f * frameBytes
		if !mix {
			off := base + ch*2
			return float64(int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8))
		}
		var sum int32
		for c := range src.Channels {
			off := base + c*2
			sum += int32(int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8))
		}
		return math.Floor(float64(sum) / float64(src.Channels))
	}

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= srcFrames {
			idx = srcFrames - 1
		}
		frac := pos - float64(idx)

		for ch := range dst.Channels {
			s0 := sampleAt(idx, ch)
			s1 := s0
			if idx+1 < srcFrames {
				s1 = sampleAt(idx+1, ch)
			}
			v := clamp16(math.Floor(s0*(1-frac) + s1*frac))
			off := (i*dst.Channels + ch) * 2
			out[off] = byte(v)
			out[off+1] = byte(uint16(v) >> 8)
		}
	}
	return out, nil
}

// clamp16 limits v to the int16 range.
func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// formatString returns a human-readable string for a format,
// e.g. "48000Hz stereo".
func formatString(f Format) string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 || f.Channels <= 0 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
