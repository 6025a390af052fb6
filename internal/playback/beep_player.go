package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	"go.uber.org/zap"

	"flowstate/internal/domain"
	"flowstate/internal/logging"
)

const maxAudioBytes = 32 << 20

type renderFunc func(ctx context.Context, streamer beep.Streamer) error

// SpeakerPlayer decodes WAV or MP3 payloads and plays them on the default output.
type SpeakerPlayer struct {
	sampleRate beep.SampleRate
	latency    time.Duration
	http       *http.Client
	logger     *zap.SugaredLogger
	render     renderFunc

	initOnce sync.Once
	initErr  error
}

func NewSpeakerPlayer(sampleRate int, latency time.Duration, logger *zap.SugaredLogger) *SpeakerPlayer {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if latency <= 0 {
		latency = 100 * time.Millisecond
	}
	p := &SpeakerPlayer{
		sampleRate: beep.SampleRate(sampleRate),
		latency:    latency,
		http:       &http.Client{Timeout: 15 * time.Second},
		logger:     logging.OrNop(logger),
	}
	p.render = p.renderSpeaker
	return p
}

// Play blocks until the item has been rendered or ctx is cancelled.
func (p *SpeakerPlayer) Play(ctx context.Context, item domain.PlaybackItem) error {
	data := item.Audio
	if len(data) == 0 && item.AudioRef != "" {
		fetched, err := p.fetch(ctx, item.AudioRef)
		if err != nil {
			return err
		}
		data = fetched
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: item has no audio", domain.ErrPlayback)
	}

	streamer, format, err := decodeAudio(data)
	if err != nil {
		return err
	}
	defer streamer.Close()

	var source beep.Streamer = streamer
	if format.SampleRate != p.sampleRate {
		source = beep.Resample(4, format.SampleRate, p.sampleRate, streamer)
	}

	p.logger.Debugw("playing translation audio", "item", item.ID, "seq", item.Sequence, "sample_rate", format.SampleRate)
	return p.render(ctx, source)
}

func (p *SpeakerPlayer) renderSpeaker(ctx context.Context, streamer beep.Streamer) error {
	p.initOnce.Do(func() {
		p.initErr = speaker.Init(p.sampleRate, p.sampleRate.N(p.latency))
	})
	if p.initErr != nil {
		return fmt.Errorf("%w: speaker init: %v", domain.ErrPlayback, p.initErr)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func (p *SpeakerPlayer) fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlayback, err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch audio: %v", domain.ErrPlayback, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: fetch audio: status %d", domain.ErrPlayback, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", domain.ErrPlayback, err)
	}
	return data, nil
}

// decodeAudio sniffs the container and returns a decoder for it.
func decodeAudio(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		streamer, format, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("%w: decode wav: %v", domain.ErrPlayback, err)
		}
		return streamer, format, nil
	case isMP3(data):
		streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("%w: decode mp3: %v", domain.ErrPlayback, err)
		}
		return streamer, format, nil
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: unrecognized audio format", domain.ErrPlayback)
	}
}

func isMP3(data []byte) bool {
	if bytes.HasPrefix(data, []byte("ID3")) {
		return true
	}
	// MPEG frame sync: 11 set bits.
	return len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}
