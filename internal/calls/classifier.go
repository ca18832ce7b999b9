package calls

import "strings"

// State is the classification of a raw provider status token.
type State string

const (
	StateUnknown State = "unknown"
	StateOngoing State = "ongoing"
	StateFinal   State = "final"
)

// Classification carries the state plus a short reason used for release
// logging. Reason is the normalized token for vocabulary matches, or
// "artifacts" for artifact-based ends.
type Classification struct {
	State  State
	Reason string
}

func (c Classification) Final() bool   { return c.State == StateFinal }
func (c Classification) Ongoing() bool { return c.State == StateOngoing }

// finalTokens are status values meaning the call definitively ended.
// The provider vocabulary drifts between releases; keep known variants.
var finalTokens = map[string]struct{}{
	"completed":    {},
	"complete":     {},
	"finished":     {},
	"ended":        {},
	"disconnected": {},
	"failed":       {},
	"busy":         {},
	"no-answer":    {},
	"no_answer":    {},
	"noanswer":     {},
	"canceled":     {},
	"cancelled":    {},
	"hangup":       {},
	"hang-up":      {},
	"hang_up":      {},
	"call_hangup":  {},
}

// ongoingTokens are status values meaning the call is currently live.
var ongoingTokens = map[string]struct{}{
	"in_progress": {},
	"in-progress": {},
	"inprogress":  {},
	"ringing":     {},
	"dialing":     {},
	"connected":   {},
	"live":        {},
	"ongoing":     {},
	"active":      {},
	"answer":      {},
	"answered":    {},
	"talking":     {},
}

// Classify maps a raw status token plus artifact presence to a State.
//
// Order matters: a recognized final token always wins; otherwise artifacts
// alone are treated as a conclusive end even when the status text still reads
// as ongoing, because the feed is eventually consistent and artifacts only
// exist for ended calls. Pure and total over all string inputs.
func Classify(status string, hasArtifacts bool) Classification {
	tok := strings.ToLower(strings.TrimSpace(status))

	if _, ok := finalTokens[tok]; ok {
		return Classification{State: StateFinal, Reason: tok}
	}
	if hasArtifacts {
		return Classification{State: StateFinal, Reason: "artifacts"}
	}
	if _, ok := ongoingTokens[tok]; ok {
		return Classification{State: StateOngoing, Reason: tok}
	}
	return Classification{State: StateUnknown, Reason: tok}
}

// ClassifyCall is a convenience over Classify for an unwrapped record.
func ClassifyCall(c Call) Classification {
	return Classify(c.Status, c.HasArtifacts())
}
