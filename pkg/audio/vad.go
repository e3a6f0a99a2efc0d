package audio

// VoiceActivityThreshold is the default mean absolute amplitude (16-bit
// scale) a buffer must exceed to count as speech.
const VoiceActivityThreshold = 100.0

// VoiceGate is an energy-based voice activity detector over mono 16-bit PCM.
// The zero value is a disabled gate that accepts everything.
type VoiceGate struct {
	// Enabled turns the gate on. A disabled gate always reports activity.
	Enabled bool

	// Threshold overrides [VoiceActivityThreshold] when positive.
	Threshold float64
}

// HasVoiceActivity reports whether pcm contains speech. It is a pure
// function of its input and the gate's configuration.
//
// With the gate enabled, empty input reports false. A trailing odd byte is
// ignored.
func (g VoiceGate) HasVoiceActivity(pcm []byte) bool {
	if !g.Enabled {
		return true
	}
	if len(pcm) < 2 {
		return false
	}
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = VoiceActivityThreshold
	}
	return MeanAbsAmplitude(pcm) > threshold
}

// MeanAbsAmplitude returns the mean absolute sample value of 16-bit
// little-endian PCM. Returns 0 for buffers shorter than one sample.
func MeanAbsAmplitude(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum int64
	for i := range n {
		s := int64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		if s < 0 {
			s = -s
		}
		sum += s
	}
	return float64(sum) / float64(n)
}
