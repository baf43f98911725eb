package tts

// sentence-ending punctuation recognized by the splitter
func isSentenceEnd(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

// SplitText splits text into chunks of at most budget characters, preferring
// sentence boundaries. The scan looks backward from the budget boundary for
// sentence-ending punctuation followed by a space, then for the nearest
// preceding space, and hard-splits at the boundary only when neither exists.
// No chunk is ever empty and no characters are dropped beyond the single
// separator space consumed at each soft split.
func SplitText(text string, budget int) []string {
	if budget <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string

	for len(runes) > 0 {
		if len(runes) <= budget {
			chunks = append(chunks, string(runes))
			break
		}

		window := runes[:budget]
		cut, skip := splitPoint(window)
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut+skip:]
	}

	return chunks
}

// splitPoint returns the length of the chunk to take from window and the
// number of separator runes to consume after it.
func splitPoint(window []rune) (cut, skip int) {
	// Nearest sentence end followed by a space, scanning backward.
	for i := len(window) - 2; i >= 0; i-- {
		if isSentenceEnd(window[i]) && window[i+1] == ' ' {
			return i + 1, 1
		}
	}

	// Fall back to the nearest preceding space.
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == ' ' {
			return i, 1
		}
	}

	// No space at all: hard split at the budget boundary.
	return len(window), 0
}
