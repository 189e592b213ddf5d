package quotaguard

import "unicode/utf8"

// EstimateTokens provides a rough token count estimate for messages.
// Counts ~1 token per 2 runes, which over-estimates English and roughly
// matches Japanese, plus overhead per message.
func EstimateTokens(messages []Message) int64 {
	var total int64
	for _, m := range messages {
		total += int64(utf8.RuneCountInString(m.Content)+1) / 2
		// overhead per message (role, formatting)
		total += 4
	}
	// base overhead for the request
	total += 3
	return total
}
