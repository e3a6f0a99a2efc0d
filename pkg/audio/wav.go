package audio

import "encoding/binary"

// wavHeaderSize is the size of the canonical 44-byte RIFF/WAVE PCM header.
const wavHeaderSize = 44

// EncodeWAV wraps 16-bit little-endian PCM in a RIFF/WAV container. The
// result is what translation services expect for inline audio uploads.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bps = 16
	byteRate := f.SampleRate * f.Channels * bps / 8
	blockAlign := f.Channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], pcm)

	return buf
}
