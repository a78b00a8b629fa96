// Package classifier turns raw device signals into incidents using kind and
// message matching.
package classifier

import (
	"strings"
	"time"

	"github.com/setevik/sosdesk/internal/incident"
	"github.com/setevik/sosdesk/internal/intake"
)

// Classifier matches device signals to incident types.
type Classifier struct {
	now func() time.Time
}

// New creates a Classifier.
func New() *Classifier {
	return &Classifier{now: time.Now}
}

// Classify examines a signal and returns a new yet-to-attend incident, or nil
// if the signal is housekeeping or does not match any known type.
func (c *Classifier) Classify(sig intake.Signal) *incident.Incident {
	kind := strings.ToLower(strings.TrimSpace(sig.Kind))
	if ignoredKinds[kind] {
		return nil
	}
	for _, re := range ignoredMessages {
		if re.MatchString(sig.Message) {
			return nil
		}
	}

	typ, ok := matchType(kind, sig.Message)
	if !ok {
		return nil
	}

	ts := sig.At
	if ts.IsZero() {
		ts = c.now()
	}

	inc := incident.New(typ, sig.Flat, ts)
	inc.DeviceTag = sig.DeviceTag
	inc.Description = strings.TrimSpace(sig.Message)
	return inc
}

// matchType checks kinds first across all rules, then messages, so that an
// explicit device kind always beats a message keyword.
func matchType(kind, message string) (incident.Type, bool) {
	for _, r := range rules {
		if r.kinds[kind] {
			return r.typ, true
		}
	}
	for _, r := range rules {
		for _, re := range r.messages {
			if re.MatchString(message) {
				return r.typ, true
			}
		}
	}
	return "", false
}
