package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/sayverb/voicerouter/pkg/audio"
)

// openPCMSource returns a channel of frames read from path (raw
// little-endian float32 mono 16 kHz PCM), or an endless stream of silent
// frames when path is empty. The returned close function releases any
// underlying file handle and must always be called.
func openPCMSource(path string) (<-chan audio.Frame, func(), error) {
	if path == "" {
		done := make(chan struct{})
		ch := make(chan audio.Frame)
		go func() {
			defer close(ch)
			var silent audio.Frame
			for {
				select {
				case <-done:
					return
				case ch <- silent:
				}
			}
		}()
		return ch, func() { close(done) }, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open pcm source %q: %w", path, err)
	}

	ch := make(chan audio.Frame)
	go func() {
		defer close(ch)
		buf := make([]byte, audio.FrameSamples*4)
		for {
			n, err := f.Read(buf)
			if n == 0 || err != nil {
				return
			}
			frame := decodeFrame(buf[:n])
			ch <- frame
		}
	}()
	return ch, func() { f.Close() }, nil
}

// decodeFrame parses raw little-endian float32 PCM samples out of b,
// zero-padding a short final read to a full frame.
func decodeFrame(b []byte) audio.Frame {
	var frame audio.Frame
	n := len(b) / 4
	for i := 0; i < n && i < audio.FrameSamples; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		frame.Samples[i] = math.Float32frombits(bits)
	}
	return frame
}
