// Package session implements message append/archival over a conversation
// log, lexically-relevant context assembly for search within a token
// budget, and the binding between a session and its OM scope key.
//
// Sessions are held as ephemeral, per-process state rather than persisted
// directly: a session's durable trace is the messages appended to the
// index and the OM record they feed, not the Session value itself.
package session

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/indexstore"
	"github.com/axiomme/axiomme/internal/om"
	"github.com/axiomme/axiomme/internal/uri"
)

// Message is one appended conversation entry.
type Message struct {
	Role      string
	Text      string
	CreatedAt time.Time
}

// ArchivedSegment is a contiguous run of messages moved out of the active
// log, retained for relevance-ranked recall via ContextForSearch.
type ArchivedSegment struct {
	Messages   []Message
	ArchivedAt time.Time
}

// Session holds one conversation's active message log plus archived
// segments moved out of it over time.
type Session struct {
	URI      uri.URI
	Active   []Message
	Archived []ArchivedSegment
}

// New constructs an empty session addressed at sessionURI.
func New(sessionURI uri.URI) *Session {
	return &Session{URI: sessionURI}
}

// Append adds msg to the active log.
func (s *Session) Append(msg Message) {
	s.Active = append(s.Active, msg)
}

// ArchiveOlderThan moves every active message older than cutoff into a new
// archived segment, leaving only messages at or after cutoff active. A
// no-op if nothing qualifies.
func (s *Session) ArchiveOlderThan(cutoff time.Time) {
	boundary := 0
	for boundary < len(s.Active) && s.Active[boundary].CreatedAt.Before(cutoff) {
		boundary++
	}
	if boundary == 0 {
		return
	}
	s.Archived = append(s.Archived, ArchivedSegment{
		Messages:   append([]Message{}, s.Active[:boundary]...),
		ArchivedAt: time.Now().UTC(),
	})
	s.Active = append([]Message{}, s.Active[boundary:]...)
}

// scoredMessage pairs a message with its lexical relevance score, for
// ranking archived recall candidates.
type scoredMessage struct {
	msg   Message
	score int
	order int // archival position, for a stable tie-break
}

// ContextForSearch returns archived messages relevant to query, ranked by
// lexical term overlap (using the same tokenizer as the index, per §8's
// tokenization-identity property), filling up to tokenBudget characters of
// text (a conservative proxy for tokens; callers with an actual tokenizer
// may instead bound len(result) themselves).
func (s *Session) ContextForSearch(query string, tokenBudget int) []Message {
	queryTerms := make(map[string]bool)
	for _, t := range indexstore.Tokenize(query) {
		queryTerms[t] = true
	}
	if len(queryTerms) == 0 || tokenBudget <= 0 {
		return nil
	}

	var candidates []scoredMessage
	order := 0
	for _, seg := range s.Archived {
		for _, m := range seg.Messages {
			score := overlapScore(m.Text, queryTerms)
			if score > 0 {
				candidates = append(candidates, scoredMessage{msg: m, score: score, order: order})
			}
			order++
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order > candidates[j].order // more recent first on ties
	})

	var out []Message
	budget := tokenBudget
	for _, c := range candidates {
		cost := len(c.msg.Text)
		if cost > budget {
			continue
		}
		out = append(out, c.msg)
		budget -= cost
		if budget <= 0 {
			break
		}
	}
	return out
}

func overlapScore(text string, queryTerms map[string]bool) int {
	score := 0
	for _, t := range indexstore.Tokenize(text) {
		if queryTerms[t] {
			score++
		}
	}
	return score
}

// OmScopeKey builds this session's OM scope key from its URI's final
// segment, the session identifier.
func (s *Session) OmScopeKey() (string, error) {
	return om.BuildScopeKey(om.ScopeSession, s.URI.LastSegment())
}

// ToOmMessages converts a window of active messages into om.Message
// values for observer consumption, tagging every message with threadID
// (the session's own URI, since AxiomMe sessions do not subdivide into
// sub-threads) and a rough token estimate (1 token per 4 characters,
// matching the observer's own budget accounting elsewhere).
func ToOmMessages(threadID string, msgs []Message) []om.Message {
	out := make([]om.Message, 0, len(msgs))
	for i, m := range msgs {
		out = append(out, om.Message{
			ID:         threadID + "#" + strings.TrimSpace(m.CreatedAt.Format(time.RFC3339Nano)) + "-" + strconv.Itoa(i),
			ThreadID:   threadID,
			Role:       m.Role,
			Text:       m.Text,
			TokenCount: (len(m.Text) + 3) / 4,
			CreatedAt:  m.CreatedAt,
		})
	}
	return out
}
