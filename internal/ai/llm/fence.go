package llm

import (
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*[ \\t]*\\n?(.*?)\\n?```$")

// StripCodeFence removes a surrounding markdown code block from a model reply
func StripCodeFence(response string) string {
	response = strings.TrimSpace(response)
	if matches := codeFence.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}
