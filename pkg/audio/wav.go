// Package audio provides PCM helpers shared by the media pipeline: RIFF/WAV
// container encoding for batch transcription uploads and duration/energy
// arithmetic on raw 16-bit little-endian PCM buffers.
//
// The whole system standardises on mono 16 kHz 16-bit signed PCM; these
// helpers accept explicit sample-rate and channel parameters anyway so tests
// and future capture paths are not locked in.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// BitsPerSample is fixed at 16 for all PCM handled by the pipeline.
const BitsPerSample = 16

// DefaultSampleRate is the capture sample rate requested from the media
// extraction subprocess.
const DefaultSampleRate = 16000

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// 44-byte RIFF/WAV header. The result is the self-describing container the
// transcription server expects in its multipart upload.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * BitsPerSample / 8
	blockAlign := channels * BitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// PCMBytes returns the number of raw PCM bytes that hold d worth of audio at
// the given sample rate and channel count.
func PCMBytes(d time.Duration, sampleRate, channels int) int {
	bytesPerSecond := sampleRate * channels * BitsPerSample / 8
	return int(d.Seconds() * float64(bytesPerSecond))
}

// PCMDuration returns the play time of a raw PCM buffer. Returns 0 for
// invalid parameters.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	bytesPerSecond := sampleRate * channels * BitsPerSample / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bytesPerSecond) * float64(time.Second))
}

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, expressed in sample units (0–32 767). Returns 0 for buffers
// shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
