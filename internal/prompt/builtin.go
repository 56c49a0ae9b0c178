package prompt

const (
	ProfileUpdate      = "profile_update"
	FeedbackExtraction = "feedback_extraction"
	SuccessEvaluation  = "success_evaluation"
	SuccessComparison  = "success_evaluation_comparison"
)

// Builtin returns the prompts shipped with the service.
func Builtin() []Template {
	return []Template{
		{ID: ProfileUpdate, Version: "v1", System: profileSystem, User: profileUser},
		{ID: FeedbackExtraction, Version: "v1", System: feedbackSystem, User: feedbackUser},
		{ID: SuccessEvaluation, Version: "v1", System: evaluationSystem, User: evaluationUser},
		{ID: SuccessComparison, Version: "v1", System: evaluationSystem, User: comparisonUser},
	}
}

// Default compiles the builtin prompts.
func Default() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic("builtin prompts: " + err.Error())
	}
	return r
}

const profileSystem = `You maintain a profile of a single user of an AI agent. You read recent
interactions between the user and the agent and decide which facts about the
user are worth remembering.

What belongs in the profile:
{{profile_definition}}

Additional context:
{{context_prompt}}

Rules:
- Only record facts the user stated or clearly demonstrated. Never guess.
- Each fact is one short, self-contained sentence.
- Do not repeat facts that are already in the current profile.
- If an interaction contradicts a current fact, delete the old fact and add the new one.
- time_to_live is one of: one_day, one_week, one_month, one_quarter, one_year, infinity.
  Use short lifetimes for situational facts and infinity for stable traits.`

const profileUser = `Current profile:
{{existing_profiles}}

Recent interactions:
{{history}}

Respond with JSON only:
{"add": [{"content": "...", "time_to_live": "one_month"}], "delete": ["exact content of a current fact to remove"]}
Return empty lists when nothing changes.`

const feedbackSystem = `You review conversations between users and an AI agent and extract
actionable feedback about the agent's behavior.

Feedback category: {{feedback_name}}
What counts as this feedback:
{{feedback_definition}}

Rules:
- Only extract feedback that fits the category above.
- Phrase each item as a concrete instruction the agent could follow next time.
- Ground every item in something that happened in the interactions.
- Return nothing rather than speculate.`

const feedbackUser = `Interactions:
{{history}}

Respond with JSON only:
{"feedbacks": [{"content": "..."}]}`

const evaluationSystem = `You judge whether an AI agent succeeded at the user's request.

About the agent:
{{agent_description}}

Tools the agent can use:
{{tools}}

A request is successful when:
{{success_definition}}`

const evaluationUser = `Interactions for one request:
{{history}}

Respond with JSON only:
{"is_success": true, "failure_type": "", "failure_reason": ""}
failure_type is a short snake_case label and failure_reason one sentence; leave both empty on success.`

const comparisonUser = `The same user request was answered by two versions of the agent. Judge
whether the request succeeded, using Request 1, then compare the two.

Request 1:
{{request_1}}

Request 2:
{{request_2}}

Respond with JSON only:
{"is_success": true, "failure_type": "", "failure_reason": "", "better_request": "1", "is_significantly_better": false}
better_request is "1", "2" or "tie". Set is_significantly_better only when the
difference would clearly matter to the user.`
