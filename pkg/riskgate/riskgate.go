// Package riskgate holds destructive requests until the user confirms them.
//
// Each session is in one of two states. In no_pending, a message matching
// the destructive lexicon is parked as a pending confirmation and the user
// is asked to confirm. In pending_confirmation, the next message is the
// answer: a yes word resubmits the parked text, anything else cancels it.
package riskgate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/session"
)

// DefaultKeywords is the destructive-verb lexicon.
var DefaultKeywords = []string{
	"delete", "remove", "clear", "drop", "destroy", "truncate", "erase", "wipe", "purge", "remove all",
}

var yesWords = map[string]bool{
	"yes": true, "y": true, "ok": true, "sure": true, "confirm": true, "proceed": true,
}

// Cancelled is the reply to any answer other than yes.
const Cancelled = "Action cancelled."

type State string

const (
	StateNoPending State = "no_pending"
	StatePending   State = "pending_confirmation"
)

// StateOf reports the gate state of sess.
func StateOf(sess *session.Session) State {
	if _, ok := sess.Pending(); ok {
		return StatePending
	}
	return StateNoPending
}

// Verdict is the assessment of one message.
type Verdict struct {
	Risky    bool
	Keywords []string
}

// Explanation describes the verdict to the user.
func (v Verdict) Explanation() string {
	if !v.Risky {
		return "This request appears safe to process."
	}
	return fmt.Sprintf("This request contains potentially dangerous operations: %s. This action may modify or delete data.",
		strings.Join(v.Keywords, ", "))
}

// Action tells the caller what to do with a message.
type Action int

const (
	// Proceed sends Message to the orchestrator.
	Proceed Action = iota
	// Confirm replies with Response and waits for the user's answer.
	Confirm
	// Cancel replies with Response.
	Cancel
	// Resubmit runs Message through the gate again; it passes once.
	Resubmit
)

// Decision is the outcome of Check.
type Decision struct {
	Action   Action
	Message  string
	Payload  any
	Response string
	Verdict  Verdict
}

// RequiresConfirmation reports whether the reply asks the user to confirm.
func (d Decision) RequiresConfirmation() bool { return d.Action == Confirm }

type Gate struct {
	keywords []string
	patterns []*regexp.Regexp
}

// New builds a gate over the default lexicon plus cfg.ExtraKeywords.
func New(cfg config.RiskConfig) *Gate {
	g := &Gate{}
	seen := map[string]bool{}
	for _, kw := range append(append([]string(nil), DefaultKeywords...), cfg.ExtraKeywords...) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		words := strings.Fields(kw)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		g.keywords = append(g.keywords, kw)
		g.patterns = append(g.patterns, regexp.MustCompile(`(?i)\b`+strings.Join(words, `\s+`)+`\b`))
	}
	return g
}

// Keywords returns the lexicon in matching order.
func (g *Gate) Keywords() []string {
	return append([]string(nil), g.keywords...)
}

// Assess matches message against the lexicon, whole words only. A matched
// phrase is reported instead of the single keywords it contains, so
// "remove all" names the request more precisely than "remove".
func (g *Gate) Assess(message string) Verdict {
	var matched []string
	for i, re := range g.patterns {
		if re.MatchString(message) {
			matched = append(matched, g.keywords[i])
		}
	}

	var v Verdict
	for _, kw := range matched {
		if !subsumed(kw, matched) {
			v.Keywords = append(v.Keywords, kw)
		}
	}
	v.Risky = len(v.Keywords) > 0
	return v
}

// subsumed reports whether kw is one of the words of another matched phrase.
func subsumed(kw string, matched []string) bool {
	for _, other := range matched {
		if other == kw {
			continue
		}
		for _, w := range strings.Fields(other) {
			if w == kw {
				return true
			}
		}
	}
	return false
}

// Check runs message through the session's gate state. payload travels
// with a parked message and comes back on resubmission.
func (g *Gate) Check(sess *session.Session, message string, payload any) Decision {
	if pending, ok := sess.TakePending(); ok {
		if IsYes(message) {
			slog.Warn("User confirmed high-risk request", "session_id", sess.ID(), "keyword", pending.Keyword)
			sess.GrantBypass()
			return Decision{Action: Resubmit, Message: pending.Message, Payload: pending.Payload}
		}
		slog.Info("User declined high-risk request", "session_id", sess.ID())
		return Decision{Action: Cancel, Response: Cancelled}
	}

	if sess.ConsumeBypass() {
		return Decision{Action: Proceed, Message: message, Payload: payload}
	}

	v := g.Assess(message)
	if !v.Risky {
		return Decision{Action: Proceed, Message: message, Payload: payload, Verdict: v}
	}

	sess.SetPending(session.PendingConfirmation{Message: message, Keyword: v.Keywords[0], Payload: payload})
	slog.Warn("High-risk request requires confirmation", "session_id", sess.ID(), "keywords", v.Keywords)
	return Decision{
		Action:   Confirm,
		Message:  message,
		Response: "Warning: " + v.Explanation() + "\n\nDo you want to proceed? (yes/no)",
		Verdict:  v,
	}
}

// IsYes reports whether answer confirms a pending request.
func IsYes(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	a = strings.TrimRight(a, ".!")
	return yesWords[a]
}
