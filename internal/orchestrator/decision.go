package orchestrator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tradecouncil/tradecouncil/internal/db"
)

// proposalPattern matches "final ... proposal" followed by a decision
// token on the same line, tolerating markdown emphasis and filler words
// in between.
var proposalPattern = regexp.MustCompile(`(?i)final[^\n]*?proposal[^\n]*?\b(buy|hold|sell)\b`)

// confidencePattern matches a percent token on a line tagged as
// confidence, with or without the % sign.
var confidencePattern = regexp.MustCompile(`(?i)confidence[^\n0-9]*([0-9]+(?:\.[0-9]+)?)\s*%?`)

// ExtractDecision parses the final trade decision content for the last
// "final ... proposal" line carrying BUY, HOLD, or SELL. A missing token
// yields nil; the session still completes.
func ExtractDecision(content string) *db.Decision {
	matches := proposalPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	token := strings.ToUpper(matches[len(matches)-1][1])
	decision := db.Decision(token)
	return &decision
}

// ExtractConfidence parses the content for the last confidence percentage
// in [0, 100] and returns it scaled to [0, 1]. Out-of-range or missing
// values yield nil. The rule is deterministic and total.
func ExtractConfidence(content string) *float64 {
	matches := confidencePattern.FindAllStringSubmatch(content, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		v, err := strconv.ParseFloat(matches[i][1], 64)
		if err != nil || v < 0 || v > 100 {
			continue
		}
		confidence := v / 100
		return &confidence
	}
	return nil
}
