package intel

import (
	"context"
	"strings"
	"time"

	"github.com/sitelens/intel-cli/internal/model"
)

// streamer paces narrative output for a human-perceived "live" experience:
// word-by-word text chunks with a small delay after non-whitespace tokens,
// then one structured event per insight card with a fixed inter-card delay.
// The same pacing is used for fresh generation and cache replay, so the two
// paths are indistinguishable to the client.
type streamer struct {
	sinks     Sinks
	wordDelay time.Duration
	cardDelay time.Duration
}

func newStreamer(sinks Sinks, wordDelay, cardDelay time.Duration) *streamer {
	return &streamer{
		sinks:     sinks,
		wordDelay: wordDelay,
		cardDelay: cardDelay,
	}
}

func (s *streamer) status(message string) {
	s.sinks.emitNarrative(model.NarrativeEvent{Type: model.NarrativeStatusUpdate, Message: message})
}

func (s *streamer) transition(message string) {
	s.sinks.emitNarrative(model.NarrativeEvent{Type: model.NarrativeTransition, Message: message})
}

// streamText emits the narrative one token at a time. Tokens alternate
// between whitespace and non-whitespace runs so their concatenation
// reconstructs the source string exactly; whitespace tokens flush without
// delay.
func (s *streamer) streamText(ctx context.Context, narrative string) {
	for _, token := range tokenize(narrative) {
		s.sinks.emitNarrative(model.NarrativeEvent{Type: model.NarrativeTextChunk, Text: token})
		if strings.TrimSpace(token) != "" {
			s.pause(ctx, s.wordDelay)
		}
	}
}

// streamCards emits one event per card with a fixed delay between cards,
// independent of card content length. No delay follows the last card.
func (s *streamer) streamCards(ctx context.Context, cards []model.InsightCard) {
	for i := range cards {
		card := cards[i]
		s.sinks.emitNarrative(model.NarrativeEvent{Type: model.NarrativeInsightCard, Card: &card})
		if i < len(cards)-1 {
			s.pause(ctx, s.cardDelay)
		}
	}
}

func (s *streamer) profile(analysis *model.BusinessAnalysis) {
	s.sinks.emitNarrative(model.NarrativeEvent{Type: model.NarrativeBusinessProfile, Profile: analysis})
}

func (s *streamer) complete() {
	s.sinks.emitNarrative(model.NarrativeEvent{Type: model.NarrativeComplete})
}

func (s *streamer) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// tokenize splits s into alternating runs of non-whitespace and whitespace
// characters. The concatenation of the returned tokens equals s.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	var tokens []string
	start := 0
	inSpace := isSpace(rune(s[0]))
	for i, r := range s {
		if isSpace(r) != inSpace {
			tokens = append(tokens, s[start:i])
			start = i
			inSpace = !inSpace
		}
	}
	return append(tokens, s[start:])
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
