package fsm

// allowedTransitions is the static stage adjacency map. A transition not
// listed here is clamped back to the current stage with a warning event
// (spec.md §4.7 dispatch step 4).
var allowedTransitions = map[string][]string{
	"ASK_CONSENT":               {"ASK_LANGUAGE", "ENDED"},
	"ASK_LANGUAGE":              {"ASK_NAME"},
	"ASK_NAME":                  {"ASK_USER_LEVEL"},
	"ASK_USER_LEVEL":            {"ASK_DEVICE_CATEGORY"},
	"ASK_DEVICE_CATEGORY":       {"ASK_DEVICE_TYPE_MAIN", "ASK_DEVICE_TYPE_EXTERNAL"},
	"ASK_DEVICE_TYPE_MAIN":      {"ASK_PROBLEM"},
	"ASK_DEVICE_TYPE_EXTERNAL":  {"ASK_PROBLEM"},
	"ASK_PROBLEM": {
		"ASK_PROBLEM_CLARIFICATION", "RISK_CONFIRMATION", "CONNECTIVITY_FLOW",
		"INSTALLATION_STEP", "DIAGNOSTIC_STEP", "GUIDED_STORY", "ASK_INTERACTION_MODE",
		"ASK_LEARNING_DEPTH", "ASK_EXECUTOR_ROLE",
	},
	"ASK_PROBLEM_CLARIFICATION": {"ASK_PROBLEM", "DIAGNOSTIC_STEP", "CONNECTIVITY_FLOW", "ENDED"},
	"GUIDED_STORY":              {"ASK_PROBLEM", "DIAGNOSTIC_STEP", "CONNECTIVITY_FLOW"},
	"EMOTIONAL_RELEASE":         {"ASK_PROBLEM", "DIAGNOSTIC_STEP", "CONNECTIVITY_FLOW"},
	"RISK_CONFIRMATION":         {"ASK_PROBLEM", "INSTALLATION_STEP"},
	"DIAGNOSTIC_STEP":           {"DIAGNOSTIC_STEP", "ASK_FEEDBACK", "ENDED"},
	"CONNECTIVITY_FLOW":         {"CONNECTIVITY_FLOW", "ASK_FEEDBACK", "ENDED"},
	"INSTALLATION_STEP":         {"INSTALLATION_STEP", "ASK_FEEDBACK", "ENDED"},
	"CONTEXT_RESUME":            {"ASK_PROBLEM", "DIAGNOSTIC_STEP", "CONNECTIVITY_FLOW", "ASK_FEEDBACK"},
	"ASK_INTERACTION_MODE":      {"ASK_LEARNING_DEPTH", "ASK_PROBLEM"},
	"ASK_LEARNING_DEPTH":        {"ASK_EXECUTOR_ROLE", "ASK_PROBLEM"},
	"ASK_EXECUTOR_ROLE":         {"ASK_PROBLEM"},
	"ASK_FEEDBACK":              {"ENDED"},
	"ENDED":                     {},
}

func transitionAllowed(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var dispatchTable = map[string]handlerFunc{
	"ASK_CONSENT":               handleAskConsent,
	"ASK_LANGUAGE":              handleAskLanguage,
	"ASK_NAME":                  handleAskName,
	"ASK_USER_LEVEL":            handleAskUserLevel,
	"ASK_DEVICE_CATEGORY":       handleAskDeviceCategory,
	"ASK_DEVICE_TYPE_MAIN":      handleAskDeviceTypeMain,
	"ASK_DEVICE_TYPE_EXTERNAL":  handleAskDeviceTypeExternal,
	"ASK_PROBLEM":               handleAskProblem,
	"ASK_PROBLEM_CLARIFICATION": handleAskProblemClarification,
	"RISK_CONFIRMATION":         handleRiskConfirmation,
	"DIAGNOSTIC_STEP":           handleDiagnosticStep,
	"INSTALLATION_STEP":         handleInstallationStep,
	"CONNECTIVITY_FLOW":         handleConnectivityFlow,
	"GUIDED_STORY":              handleGuidedStory,
	"EMOTIONAL_RELEASE":         handleEmotionalRelease,
	"CONTEXT_RESUME":            handleContextResume,
	"ASK_INTERACTION_MODE":      handleAskInteractionMode,
	"ASK_LEARNING_DEPTH":        handleAskLearningDepth,
	"ASK_EXECUTOR_ROLE":         handleAskExecutorRole,
	"ASK_FEEDBACK":              handleAskFeedback,
}
