package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAVFile writes pcm to path as 16-bit mono PCM WAV.
func WriteWAVFile(path string, pcm PCM) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, pcm.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: pcm.SampleRate},
		Data:           make([]int, len(pcm.Samples)),
		SourceBitDepth: 16,
	}
	for i, s := range pcm.Samples {
		buf.Data[i] = int(clamp(s) * 32767)
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	return f.Close()
}

// StageFile writes data to a temp file that external decoders can read.
// Silk clips are transcoded to WAV since neither ffmpeg nor remote APIs read
// them. The caller removes the returned path.
func StageFile(name string, data []byte, ext string) (string, error) {
	if IsSilk(data) {
		pcm, err := Decode(data)
		if err != nil {
			return "", err
		}
		path, err := tempPath(name, ".wav")
		if err != nil {
			return "", err
		}
		if err := WriteWAVFile(path, pcm); err != nil {
			os.Remove(path)
			return "", err
		}
		return path, nil
	}

	path, err := tempPath(name, ext)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write temp audio: %w", err)
	}
	return path, nil
}

func tempPath(name, ext string) (string, error) {
	if ext == "" || len(ext) > 8 {
		ext = ".audio"
	}
	f, err := os.CreateTemp("", "fwapi-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp audio: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
