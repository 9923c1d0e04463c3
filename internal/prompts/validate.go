package prompts

// #region imports
import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// #endregion

// #region limits

const (
	MaxProposalLength = 10000
	MaxTagCount       = 10
)

// ErrInvalidProposal is returned when a proposal fails length, tag or delimiter checks.
var ErrInvalidProposal = errors.New("invalid proposal")

var tagPattern = regexp.MustCompile(`<[^>]+>`)

var forbiddenDelimiters = []string{
	"<PERSONA_INSTRUCTION>",
	"</PERSONA_INSTRUCTION>",
	"<USER_PROPOSAL>",
	"</USER_PROPOSAL>",
}

// stripped of the same characters the proposal is stripped of
var delimiterCleaner = strings.NewReplacer(" ", "", "_", "", "-", "", "<", "", ">", "", "/", "")

// #endregion

// #region normalize

// NormalizeProposal applies NFKC and removes control characters other than newline, tab and CR.
func NormalizeProposal(text string) string {
	normalized := norm.NFKC.String(text)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, normalized)
}

// #endregion

// #region validate

// ValidateProposal checks length, tag count and delimiter injection.
// Delimiters are matched case-insensitively ignoring spaces, underscores,
// hyphens, angle brackets and slashes.
func ValidateProposal(proposal string) error {
	if n := utf8.RuneCountInString(proposal); n > MaxProposalLength {
		return fmt.Errorf("%w: exceeds maximum length (%d characters)", ErrInvalidProposal, MaxProposalLength)
	}
	if tags := tagPattern.FindAllString(proposal, -1); len(tags) > MaxTagCount {
		return fmt.Errorf("%w: contains excessive tags (%d > %d)", ErrInvalidProposal, len(tags), MaxTagCount)
	}
	cleaned := delimiterCleaner.Replace(strings.ToUpper(proposal))
	for _, d := range forbiddenDelimiters {
		if strings.Contains(cleaned, delimiterCleaner.Replace(d)) {
			return fmt.Errorf("%w: contains forbidden delimiter %s", ErrInvalidProposal, d)
		}
	}
	return nil
}

// #endregion
