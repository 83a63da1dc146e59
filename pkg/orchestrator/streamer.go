package orchestrator

import (
	"context"
	"strings"

	"github.com/gautambitious/jin-ai/pkg/audio"
	"github.com/gautambitious/jin-ai/pkg/logging"
	"github.com/gautambitious/jin-ai/pkg/protocol"
)

// ResponseStreamer turns an incrementally produced text stream into
// chunk-streamed audio, optimising for time-to-first-audio. Text is flushed
// to TTS at sentence boundaries or after MaxBufferedWords; PCM comes back
// re-framed to ChunkMs chunks with stream_start ahead of the first frame and
// stream_end after the last.
type ResponseStreamer struct {
	ctx context.Context
	w   Writer
	tts *TTSBridge
	cfg Config
	log logging.Logger

	streamID string

	// OnStart fires once, right after stream_start goes out.
	OnStart func()

	buf        strings.Builder
	started    bool
	chunksSent int
	pcmTail    []byte
}

func NewResponseStreamer(ctx context.Context, w Writer, tts *TTSBridge, cfg Config, streamID string, log logging.Logger) *ResponseStreamer {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &ResponseStreamer{
		ctx:      ctx,
		w:        w,
		tts:      tts,
		cfg:      cfg,
		log:      log,
		streamID: streamID,
	}
}

// FeedToken buffers one LLM token and flushes to TTS when the buffer closes
// a sentence or grows past the word bound.
func (s *ResponseStreamer) FeedToken(token string) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	if token == "" {
		return nil
	}

	s.buf.WriteString(token)

	if s.shouldFlush() {
		return s.flush()
	}
	return nil
}

// StreamText streams a complete response known up front (the agent path).
// The voice-friendly cap applies here and only here.
func (s *ResponseStreamer) StreamText(text string) error {
	shaped := VoiceFriendly(text, s.cfg.MaxSentences, s.cfg.MaxWords)
	if shaped == "" {
		return nil
	}
	s.buf.WriteString(shaped)
	return s.flush()
}

// Finish flushes whatever text remains and closes the stream. partial marks
// a truncated response on the stream_end frame.
func (s *ResponseStreamer) Finish(partial bool) error {
	if s.ctx.Err() == nil {
		if err := s.flush(); err != nil {
			return err
		}
	}

	if !s.started {
		return nil
	}
	return s.w.WriteControl(protocol.StreamEnd(s.streamID, partial))
}

// Started reports whether stream_start went out (i.e. any audio flowed).
func (s *ResponseStreamer) Started() bool { return s.started }

// ChunksSent reports the number of audio frames written.
func (s *ResponseStreamer) ChunksSent() int { return s.chunksSent }

func (s *ResponseStreamer) shouldFlush() bool {
	text := s.buf.String()
	trimmed := strings.TrimRight(text, " \t\n\r")
	if trimmed == "" {
		return false
	}

	// sentence terminator with whitespace already behind it
	if len(trimmed) < len(text) && endsWithTerminator(trimmed) {
		return true
	}

	return len(strings.Fields(text)) >= s.cfg.MaxBufferedWords
}

func (s *ResponseStreamer) flush() error {
	text := CleanMarkdown(s.buf.String())
	s.buf.Reset()
	if text == "" {
		return nil
	}

	err := s.tts.Synthesize(s.ctx, text, func(pcm []byte) error {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		return s.emitPCM(pcm)
	})
	if err != nil {
		return err
	}

	// push out whatever partial frame the last TTS call left behind
	return s.drainTail()
}

// emitPCM re-frames provider PCM into ChunkMs chunks, carrying any
// non-aligned remainder over to the next call.
func (s *ResponseStreamer) emitPCM(pcm []byte) error {
	data := pcm
	if len(s.pcmTail) > 0 {
		data = append(s.pcmTail, pcm...)
		s.pcmTail = nil
	}

	frame := audio.ChunkSize(s.cfg.TTS.SampleRate, s.cfg.ChunkMs)
	for len(data) >= frame {
		if err := s.writeFrame(data[:frame]); err != nil {
			return err
		}
		data = data[frame:]
	}

	if len(data) > 0 {
		s.pcmTail = append([]byte(nil), data...)
	}
	return nil
}

func (s *ResponseStreamer) drainTail() error {
	if len(s.pcmTail) == 0 {
		return nil
	}
	tail := s.pcmTail
	s.pcmTail = nil
	if len(tail)%2 != 0 {
		tail = tail[:len(tail)-1]
	}
	if len(tail) == 0 {
		return nil
	}
	return s.writeFrame(tail)
}

func (s *ResponseStreamer) writeFrame(frame []byte) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if !s.started {
		if err := s.w.WriteControl(protocol.StreamStart(s.streamID, s.cfg.TTS.SampleRate)); err != nil {
			return err
		}
		s.started = true
		s.log.Debug("stream started", "stream_id", s.streamID, "sample_rate", s.cfg.TTS.SampleRate)
		if s.OnStart != nil {
			s.OnStart()
		}
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	if err := s.w.WriteAudio(cp); err != nil {
		return err
	}
	s.chunksSent++
	return nil
}

func endsWithTerminator(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// CleanMarkdown strips formatting artefacts that read badly aloud: emphasis
// markers, headings, code fences and list bullets.
func CleanMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"**", "",
		"*", "",
		"```", "",
		"`", "",
		"#", "",
	)
	text = replacer.Replace(text)

	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "• ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

// VoiceFriendly shapes a full response for speech: markdown removed, capped
// at maxSentences or maxWords, whichever comes first.
func VoiceFriendly(text string, maxSentences, maxWords int) string {
	text = CleanMarkdown(text)
	if text == "" {
		return ""
	}

	sentences := SplitSentences(text)
	if maxSentences > 0 && len(sentences) > maxSentences {
		text = strings.Join(sentences[:maxSentences], " ")
	}

	words := strings.Fields(text)
	if maxWords > 0 && len(words) > maxWords {
		text = strings.Join(words[:maxWords], " ") + "..."
	}
	return text
}
