// Package chat implements the per-match Chat Service (C12): a bounded
// ring buffer of history plus per-user rate limiting. Grounded on the
// reference server's packet-layer rune folding (internal/net/packet) for
// CJK text, reused here so two visually-identical messages in different
// width forms can't be used to dodge the length limit.
package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/width"

	"github.com/towerlords/matchserver/internal/match"
)

const maxTextLength = 500

// Service holds per-match chat state. One Service instance per live match;
// Send runs on the match's scheduler task, while History is also read from
// connection goroutines (via Scheduler.ChatHistory), so all state is
// guarded by mu.
type Service struct {
	mu       sync.Mutex
	ring     int
	rateMax  int
	rateWin  time.Duration
	history  map[string][]match.ChatEntry
	sentAtMs map[string][]int64 // per-user recent send timestamps, for rate limiting
}

// NewService builds a Service with the given ring size and rate limit
// (§6.4 CHAT_RING, CHAT_RATE).
func NewService(ring, rateMax int, rateWindow time.Duration) *Service {
	return &Service{
		ring:     ring,
		rateMax:  rateMax,
		rateWin:  rateWindow,
		history:  make(map[string][]match.ChatEntry),
		sentAtMs: make(map[string][]int64),
	}
}

// ErrRateLimited is returned by Send when the user has exceeded rateMax
// messages within rateWindow.
var ErrRateLimited = rateLimitError{}

type rateLimitError struct{}

func (rateLimitError) Error() string { return "CHAT_RATE_LIMITED" }

// errEmptyText is returned by Send when the text is empty after Normalize.
var errEmptyText = errors.New("empty chat text")

// Normalize trims the text and folds fullwidth/halfwidth rune forms to
// their canonical width before length-checking, so the 500-character cap
// applies to the text's visual content rather than its encoding.
func Normalize(text string) string {
	return strings.TrimSpace(width.Fold.String(text))
}

// Send validates, rate-limits, and appends a chat message for matchID,
// returning the stored entry. The ring buffer keeps only the most recent
// `ring` entries per match.
func (s *Service) Send(matchID, userID, text string, nowMs int64) (match.ChatEntry, error) {
	text = Normalize(text)
	if text == "" {
		return match.ChatEntry{}, errEmptyText // empty after trim: nothing to send
	}
	if r := []rune(text); len(r) > maxTextLength {
		text = string(r[:maxTextLength])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rateLimited(userID, nowMs) {
		return match.ChatEntry{}, ErrRateLimited
	}

	entry := match.ChatEntry{UserID: userID, Text: text, SentAtMs: nowMs}
	hist := append(s.history[matchID], entry)
	if len(hist) > s.ring {
		hist = hist[len(hist)-s.ring:]
	}
	s.history[matchID] = hist

	return entry, nil
}

// rateLimited reports (and records) whether userID has sent rateMax
// messages within the trailing rateWindow as of nowMs. Must be called
// with s.mu held.
func (s *Service) rateLimited(userID string, nowMs int64) bool {
	cutoff := nowMs - s.rateWin.Milliseconds()
	times := s.sentAtMs[userID]
	kept := times[:0]
	for _, t := range times {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	if len(kept) >= s.rateMax {
		s.sentAtMs[userID] = kept
		return true
	}
	kept = append(kept, nowMs)
	s.sentAtMs[userID] = kept
	return false
}

// History returns the stored ring buffer for matchID, oldest first.
func (s *Service) History(matchID string) []match.ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]match.ChatEntry, len(s.history[matchID]))
	copy(out, s.history[matchID])
	return out
}
