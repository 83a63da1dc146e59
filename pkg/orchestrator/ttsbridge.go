package orchestrator

import (
	"context"
	"strings"
	"unicode"

	"github.com/gautambitious/jin-ai/pkg/logging"
)

// abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "vs": {}, "etc": {}, "inc": {}, "ltd": {}, "co": {},
	"e.g": {}, "i.e": {}, "a.m": {}, "p.m": {}, "u.s": {}, "u.k": {},
}

// TTSBridge splits text into utterances and synthesizes them one by one. A
// failed sentence is skipped so the rest of the response still plays.
type TTSBridge struct {
	provider TTSProvider
	cfg      TTSConfig
	log      logging.Logger
}

func NewTTSBridge(provider TTSProvider, cfg TTSConfig, log logging.Logger) *TTSBridge {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &TTSBridge{provider: provider, cfg: cfg, log: log}
}

// Synthesize streams PCM for the given text through onChunk, sentence by
// sentence. It returns an error only when the context is cancelled; provider
// failures on individual sentences are logged and skipped.
func (b *TTSBridge) Synthesize(ctx context.Context, text string, onChunk func([]byte) error) error {
	for _, sentence := range SplitSentences(text) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := b.provider.StreamSynthesize(ctx, sentence, b.cfg, onChunk)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("tts synthesis failed, skipping sentence",
				"provider", b.provider.Name(), "error", err, "sentence_len", len(sentence))
			continue
		}
	}
	return nil
}

// SplitSentences breaks text on sentence terminators while tolerating
// abbreviations and decimal numbers. Input with no terminator comes back as
// a single sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// consume a run of terminators ("?!", "...")
		end := i
		for end+1 < len(runes) && (runes[end+1] == '.' || runes[end+1] == '!' || runes[end+1] == '?') {
			end++
		}

		if r == '.' && end == i {
			// decimal like 3.5
			if i > start && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
				continue
			}
			// known abbreviation before the period
			if isAbbreviation(runes[start:i]) {
				continue
			}
		}

		// a terminator only closes a sentence at EOF or before whitespace
		if end+1 < len(runes) && !unicode.IsSpace(runes[end+1]) {
			i = end
			continue
		}

		s := strings.TrimSpace(string(runes[start : end+1]))
		if s != "" {
			out = append(out, s)
		}
		i = end
		start = end + 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

func isAbbreviation(before []rune) bool {
	// take the final word preceding the period
	i := len(before)
	for i > 0 && !unicode.IsSpace(before[i-1]) {
		i--
	}
	word := strings.ToLower(strings.TrimSpace(string(before[i:])))
	word = strings.TrimSuffix(word, ".")
	if word == "" {
		return false
	}
	// single letters ("J. Smith") read as initials
	if len(word) == 1 && unicode.IsLetter(rune(word[0])) {
		return true
	}
	_, ok := abbreviations[word]
	return ok
}
