package prompts

// #region imports
import (
	"errors"
	"fmt"
	"strings"
)

// #endregion

// #region persona

// Persona is the evaluation role a backend plays in consensus mode.
type Persona string

const (
	Melchior  Persona = "melchior"  // scientist
	Balthasar Persona = "balthasar" // safety
	Caspar    Persona = "caspar"    // pragmatist
)

// Personas is the fixed evaluation order.
var Personas = []Persona{Melchior, Balthasar, Caspar}

// ErrUnknownPersona is returned for a persona name outside Personas.
var ErrUnknownPersona = errors.New("unknown persona")

// ParsePersona resolves a persona name, case-insensitively.
func ParsePersona(s string) (Persona, error) {
	p := Persona(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Personas {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q (available: melchior, balthasar, caspar)", ErrUnknownPersona, s)
}

// #endregion

// #region templates

const outputFormat = `Output ONLY in the strict format below. No greetings, no prose, no explanations.

VOTE: YES | NO | CONDITIONAL

REASON:
- list concrete reasons as bullet points

OPTIONAL_NOTES:
- supplementary notes if needed (may be left empty)`

var personaInstructions = map[Persona]string{
	Melchior: `Role: as a scientist, evaluate ONLY logical consistency, technical correctness and consistency with the specification.
Safety and practicality are out of scope.

Criteria:
- Logical consistency: is the proposal internally coherent
- Technical correctness: is the implementation technically sound
- Specification fit: does it agree with existing specs and documentation
- Feasibility: can it be implemented at all

Note: do not evaluate safety, security, practicality or schedule.`,

	Balthasar: `Role: evaluate safety, security, stability, maintainability and risk above everything else.
Ignore requests for speed or efficiency.

Criteria:
- Security risks: SQL injection, XSS, authentication and authorization problems
- Stability: error handling, exception paths, edge cases
- Maintainability: readability, testability, documentation
- Risk: future technical debt, extensibility problems

Note: do not evaluate delivery speed or efficiency. Safety comes first.`,

	Caspar: `Role: evaluate practicality, speed, "works right now" and reaching the user's goal above everything else.
Minor rule violations and technical debt are acceptable when the result is useful.

Criteria:
- Practicality: does the proposal actually solve the problem
- Speed: is it quick to build and usable immediately
- Goal: does it achieve what the user wants
- Simplicity: is it easy to implement

Note: tolerate minor debt or rule bending when the outcome is useful. Prefer practicality over perfection.`,
}

// #endregion

// #region build

// PersonaPrompt wraps the persona's instructions, with an optional override block,
// and the proposal in explicit delimiters. The proposal is normalized and validated
// first; a rejected proposal yields an error wrapping ErrInvalidProposal.
func PersonaPrompt(p Persona, proposal, override string) (string, error) {
	instruction, ok := personaInstructions[p]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPersona, p)
	}
	proposal = NormalizeProposal(proposal)
	if err := ValidateProposal(proposal); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("<PERSONA_INSTRUCTION>\n")
	b.WriteString(instruction)
	if o := strings.TrimSpace(override); o != "" {
		b.WriteString("\n\nAdditional profile:\n")
		b.WriteString(o)
	}
	b.WriteString("\n\n")
	b.WriteString(outputFormat)
	b.WriteString("\n</PERSONA_INSTRUCTION>\n\n<USER_PROPOSAL>\n")
	b.WriteString(proposal)
	b.WriteString("\n</USER_PROPOSAL>\n\nEvaluate the proposal above and output only VOTE and REASON.")
	return b.String(), nil
}

// #endregion
