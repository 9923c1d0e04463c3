package consensus

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/danielpatrickdp/magi/go-controller/internal/gate"
	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
)

// #region limits
const (
	maxOutputLength   = 5000
	maxReasonLength   = 2000
	maxNotesLength    = 1000
	fallbackReasonCap = 500
	noReason          = "No reason provided"
)

var (
	votePattern   = regexp.MustCompile(`(?i)VOTE:\s*(YES|NO|CONDITIONAL)`)
	reasonPattern = regexp.MustCompile(`(?is)REASON:[ \t]*(.*?)(?:\n\s*(?:OPTIONAL_NOTES|VOTE):|\z)`)
	notesPattern  = regexp.MustCompile(`(?is)OPTIONAL_NOTES:[ \t]*(.*?)(?:\n\s*(?:VOTE|REASON):|\z)`)
	notesMarker   = regexp.MustCompile(`(?i)OPTIONAL_NOTES:`)
)

// #endregion limits

// #region parse-output
// ParseOutput extracts VOTE, REASON and OPTIONAL_NOTES from persona output.
// Fields are searched independently so their order does not matter.
// It never fails: unusable output yields a NO vote with an explanatory reason.
func ParseOutput(content string) (gate.Vote, string, *string) {
	if utf8.RuneCountInString(content) > maxOutputLength {
		return gate.VoteNo, "Output format validation failed: excessive length", nil
	}

	vm := votePattern.FindStringSubmatchIndex(content)
	if vm == nil {
		return gate.VoteNo, "Output format validation failed: VOTE not found", nil
	}
	vote := gate.Vote(strings.ToUpper(content[vm[2]:vm[3]]))

	reason := ""
	if m := reasonPattern.FindStringSubmatch(content); m != nil {
		reason = strings.TrimSpace(m[1])
	}
	if reason == "" {
		// no usable REASON block: take what follows the vote, up to OPTIONAL_NOTES
		rest := content[vm[1]:]
		if nm := notesMarker.FindStringIndex(rest); nm != nil {
			rest = rest[:nm[0]]
		}
		reason = generator.Truncate(strings.TrimSpace(rest), fallbackReasonCap)
	}
	if reason == "" {
		reason = noReason
	}
	reason = ellipsize(reason, maxReasonLength)

	var notes *string
	if m := notesPattern.FindStringSubmatch(content); m != nil {
		if n := strings.TrimSpace(m[1]); n != "" {
			n = ellipsize(n, maxNotesLength)
			notes = &n
		}
	}
	return vote, reason, notes
}

func ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return generator.Truncate(s, n) + "..."
}

// #endregion parse-output

// #region persona-result
// resultToPersona turns a generator result into a PersonaResult.
// Failures become NO votes flagged as errored.
func resultToPersona(p prompts.Persona, res generator.Result) PersonaResult {
	switch r := res.(type) {
	case *generator.Success:
		vote, reason, notes := ParseOutput(r.Content)
		return PersonaResult{Persona: p, Vote: vote, Reason: reason, OptionalNotes: notes}
	case *generator.Failure:
		reason := fmt.Sprintf("LLM %s: %s", r.Kind, r.Message)
		if ms := r.Duration.Milliseconds(); ms > 0 {
			reason += fmt.Sprintf(" (took %dms)", ms)
		}
		return PersonaResult{Persona: p, Vote: gate.VoteNo, Reason: reason, Errored: true}
	default:
		return PersonaResult{
			Persona: p,
			Vote:    gate.VoteNo,
			Reason:  "Failed to parse persona result: unknown result type",
			Errored: true,
		}
	}
}

// #endregion persona-result
