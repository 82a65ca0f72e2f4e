package llm

import "fmt"

// EstimateTokens approximates the token count of s as ceil(len/4). Crude,
// but it only has to agree with itself: the fitting logic both measures and
// budgets with the same estimate.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// FitToBudget shrinks a system+user prompt pair to fit a model context
// window, leaving reservedTokens of headroom for the completion. When the
// pair already fits, both prompts come back unchanged. Otherwise the
// available characters are split 30% system / 70% user, and each over-budget
// prompt is truncated from the end with a visible notice.
func FitToBudget(system, user string, maxContextTokens, reservedTokens int) (string, string, bool) {
	available := maxContextTokens - reservedTokens
	if available < 0 {
		available = 0
	}
	if EstimateTokens(system)+EstimateTokens(user) <= available {
		return system, user, false
	}

	// Budgets are rounded up to multiples of four characters so the
	// ceil-divided token estimates of the truncated prompts cannot overshoot
	// the window.
	availableChars := available * 4
	systemBudget := roundUpToStride((availableChars*30+99)/100, 4)
	if systemBudget > availableChars {
		systemBudget = availableChars
	}
	userBudget := availableChars - systemBudget

	system, truncatedSystem := truncateWithNotice(system, systemBudget, "system")
	user, truncatedUser := truncateWithNotice(user, userBudget, "user")
	return system, user, truncatedSystem || truncatedUser
}

func truncateWithNotice(s string, budgetChars int, role string) (string, bool) {
	if len(s) <= budgetChars {
		return s, false
	}
	notice := fmt.Sprintf("[%s prompt truncated to fit context...]", role)
	keep := budgetChars - len(notice)
	if keep < 0 {
		keep = 0
	}
	return s[:keep] + notice, true
}

func roundUpToStride(n, stride int) int {
	return (n + stride - 1) / stride * stride
}
