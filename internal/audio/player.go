// Package audio is the optional local audio clock: it decodes and plays
// the program's audio file and reports the playback position used as the
// cue scheduler's origin. The daemon runs fine without it when the anchor
// comes from an external player.
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/rs/zerolog/log"
)

var speakerOnce sync.Once

// Player plays one audio file at a time through the system speaker.
type Player struct {
	mu       sync.Mutex
	streamer beep.StreamSeekCloser
	format   beep.Format
	playing  bool
}

func NewPlayer() *Player {
	return &Player{}
}

// Load decodes an mp3 or wav file and returns its total duration. Any
// previously loaded file is closed.
func (p *Player) Load(path string) (time.Duration, error) {
	streamer, format, err := decode(path)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer != nil {
		p.streamer.Close()
	}
	p.streamer = streamer
	p.format = format
	p.playing = false

	return format.SampleRate.D(streamer.Len()), nil
}

// Play starts playback at offset seconds. The speaker is initialized once,
// with a 100 ms buffer, on the first call.
func (p *Player) Play(offset float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer == nil {
		return fmt.Errorf("no audio loaded")
	}

	var initErr error
	speakerOnce.Do(func() {
		initErr = speaker.Init(p.format.SampleRate, p.format.SampleRate.N(100*time.Millisecond))
	})
	if initErr != nil {
		return fmt.Errorf("speaker init: %w", initErr)
	}

	pos := p.format.SampleRate.N(time.Duration(offset * float64(time.Second)))
	if pos < 0 {
		pos = 0
	}
	if pos > p.streamer.Len() {
		pos = p.streamer.Len()
	}
	if err := p.streamer.Seek(pos); err != nil {
		return fmt.Errorf("seek audio: %w", err)
	}

	speaker.Clear()
	speaker.Play(p.streamer)
	p.playing = true

	log.Debug().Float64("offset", offset).Msg("Audio playback started")
	return nil
}

// Stop halts playback, keeping the file loaded.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return
	}
	speaker.Clear()
	p.playing = false
}

// Position returns the current playback position in seconds.
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := p.streamer.Position()
	speaker.Unlock()
	return p.format.SampleRate.D(pos).Seconds()
}

// Close releases the loaded file.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer == nil {
		return nil
	}
	err := p.streamer.Close()
	p.streamer = nil
	return err
}

func decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		stream, format, err := mp3.Decode(file)
		if err != nil {
			file.Close()
			return nil, beep.Format{}, fmt.Errorf("decode mp3: %w", err)
		}
		return stream, format, nil
	case ".wav":
		stream, format, err := wav.Decode(file)
		if err != nil {
			file.Close()
			return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
		}
		return stream, format, nil
	default:
		file.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
}
