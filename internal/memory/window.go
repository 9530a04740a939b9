package memory

import "strings"

// RenderWindow formats messages into a prompt history block bounded by
// maxChars, oldest first, each line prefixed with its role label.
//
// The scan walks from the newest message toward the oldest, accumulating line
// lengths; the first message whose inclusion would exceed maxChars stops the
// scan immediately, and only messages accepted before the stop are kept.
//
// A consequence, kept deliberately: if the newest message alone exceeds
// maxChars, the scan stops on it and the result is an empty string even when
// older, shorter messages would fit. Callers rely on this exact behavior; do
// not "fix" it here.
func RenderWindow(messages []Message, maxChars int) string {
	if len(messages) == 0 {
		return ""
	}

	var lines []string
	total := 0

	for i := len(messages) - 1; i >= 0; i-- {
		line := messages[i].Role.Label() + ": " + messages[i].Content
		if total+len(line) > maxChars {
			break
		}
		lines = append([]string{line}, lines...)
		total += len(line)
	}

	return strings.Join(lines, "\n")
}
