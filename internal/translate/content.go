package translate

import (
	"strings"

	"github.com/SixerrAI/sixerr-plugin/internal/llm"
)

// parseDataURI splits a data: URI into an ImagePart. Remote image URLs are
// not honored (never fetched), so anything else returns false.
func parseDataURI(uri string) (llm.ImagePart, bool) {
	if !strings.HasPrefix(uri, "data:") {
		return llm.ImagePart{}, false
	}
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return llm.ImagePart{}, false
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return llm.ImagePart{}, false
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return llm.ImagePart{MediaType: mediaType, Data: payload}, true
}

// ensureTurns repairs an empty conversation by inserting one empty user
// turn so the backend's at-least-one-turn precondition always holds.
func ensureTurns(conv *llm.Conversation) {
	if len(conv.Turns) == 0 {
		conv.Turns = append(conv.Turns, llm.Turn{Role: llm.RoleUser})
	}
}
