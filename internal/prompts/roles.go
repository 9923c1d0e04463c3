package prompts

// #region imports
import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
)

// #endregion

// #region role-templates

const executionTemplate = `Your role is EXECUTION (implementer).
- Put feasibility first.
- Break the work into concrete steps.
- Avoid vague wording; write code or pseudocode where it helps.

[TASK]
%s

[OUTPUT FORMAT]
1. Clarified goal
2. Executable structure
3. Step-by-step procedure
4. Required technologies and libraries
5. Concrete output (code, pseudocode, schema)`

const evaluationTemplate = `Your role is EVALUATION (reviewer).
Review the execution proposal below critically, covering:
- risks
- inconsistencies
- long-term maintainability
- security and ethics
- structural weaknesses

[UNDER REVIEW]
%s

[OUTPUT FORMAT]
1. Findings
2. Risk rating (Low/Medium/High)
3. Improvements
4. Recommended structure after fixes`

const explorationTemplate = `Your role is EXPLORATION (explorer).
Building on the reviewed proposal below, think divergently:
- alternative architectures
- analogies from other domains
- integration of outside knowledge

[PREMISE]
%s

[OUTPUT FORMAT]
1. New approaches
2. Reference knowledge from similar domains
3. Pros and cons of the alternatives
4. Turning the divergent ideas into a practical plan`

const judgeTemplate = `Below are three proposals from Codex, Claude and Gemini.
Compare them as a judge and narrow the recommendation to one.

[CODEX]
%s

[CLAUDE]
%s

[GEMINI]
%s

[STEPS]
1. Summarize the three proposals
2. Comparison table
3. Strengths, weaknesses and risks
4. Pick the single most recommended proposal and explain why
5. Say whether a merged proposal would be worthwhile
6. Finish by asking the user to adopt, merge or reconsider`

// #endregion

// #region builders

// Execution builds the first pipeline stage prompt.
func Execution(task string) string { return fmt.Sprintf(executionTemplate, task) }

// Evaluation builds the second stage prompt from the execution output.
func Evaluation(executionOutput string) string {
	return fmt.Sprintf(evaluationTemplate, executionOutput)
}

// Exploration builds the third stage prompt from the evaluation output.
func Exploration(evaluationOutput string) string {
	return fmt.Sprintf(explorationTemplate, evaluationOutput)
}

// Judge builds a comparison prompt over the three stage outputs.
func Judge(codex, claude, gemini string) string {
	return fmt.Sprintf(judgeTemplate, codex, claude, gemini)
}

// ForRole builds the normal prompt for a pipeline role. Unknown roles get the raw context.
func ForRole(role, context string) string {
	switch role {
	case "execution":
		return Execution(context)
	case "evaluation":
		return Evaluation(context)
	case "exploration":
		return Exploration(context)
	default:
		return context
	}
}

// #endregion

// #region fallback

var roleDuties = map[string]string{
	"execution":   "turn the task into a concrete, executable plan",
	"evaluation":  "review the previous proposal for risks and weaknesses",
	"exploration": "propose divergent alternatives building on the previous review",
}

// Fallback builds the prompt a substitute backend receives when it covers a role
// normally served by original. It always names both backends so the substitute
// knows it is standing in.
func Fallback(role string, substitute, original generator.BackendID, context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[FALLBACK NOTICE]\n%s is unavailable (usage limit). You (%s) are covering the %s role in its place.\n",
		original, substitute, strings.ToUpper(role))
	if duty, ok := roleDuties[role]; ok {
		fmt.Fprintf(&b, "Your job for this role: %s.\n", duty)
	}
	b.WriteString("Keep your own perspective out of it; answer as the role requires.\n\n")
	b.WriteString(ForRole(role, context))
	return b.String()
}

// #endregion
