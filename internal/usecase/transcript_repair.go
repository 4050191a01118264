package usecase

import (
	"codegen-agent/internal/domain"
)

// RepairTranscript rewrites a history so every assistant turn that requests
// tools is immediately followed by tool results whose call ids equal the
// requested ids exactly.
//
//  1. The first system message is kept and moved to the front; later system
//     messages are dropped.
//  2. An assistant turn whose contiguous tool results match its calls is kept
//     together with those results.
//  3. Otherwise the assistant turn is replaced by a text-only copy and the
//     contiguous tool results after it are dropped.
//  4. Tool results not preceded by a tool-calling assistant turn are dropped.
//
// Returns a new slice (does not modify the input). Repairing an already
// repaired history returns an equal history.
func RepairTranscript(messages []domain.Message) []domain.Message {
	if len(messages) == 0 {
		return messages
	}

	result := make([]domain.Message, 0, len(messages))
	haveSystem := false

	for i := 0; i < len(messages); {
		msg := messages[i]

		switch {
		case msg.Role == domain.RoleSystem:
			if !haveSystem {
				haveSystem = true
				result = append([]domain.Message{msg}, result...)
			}
			i++

		case msg.HasToolCalls():
			end := i + 1
			for end < len(messages) && messages[end].Role == domain.RoleTool {
				end++
			}
			results := messages[i+1 : end]

			if sameCallIDs(msg.ToolCalls, results) {
				result = append(result, msg)
				result = append(result, results...)
			} else {
				result = append(result, degradeAssistant(msg))
			}
			i = end

		case msg.Role == domain.RoleTool:
			i++

		default:
			result = append(result, msg)
			i++
		}
	}

	return result
}

// TranscriptValid reports whether messages already satisfy the pairing rule
// enforced by RepairTranscript.
func TranscriptValid(messages []domain.Message) bool {
	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		if msg.Role == domain.RoleSystem && i != 0 {
			return false
		}
		if msg.Role == domain.RoleTool {
			return false
		}
		if !msg.HasToolCalls() {
			continue
		}
		end := i + 1
		for end < len(messages) && messages[end].Role == domain.RoleTool {
			end++
		}
		if !sameCallIDs(msg.ToolCalls, messages[i+1:end]) {
			return false
		}
		i = end - 1
	}
	return true
}

// degradeAssistant returns a copy of msg carrying its text but no tool calls.
func degradeAssistant(msg domain.Message) domain.Message {
	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   msg.Content,
		Name:      msg.Name,
		Timestamp: msg.Timestamp,
	}
}

// sameCallIDs compares the requested call id set with the answered id set.
func sameCallIDs(calls []domain.ToolCall, results []domain.Message) bool {
	want := make(map[string]struct{}, len(calls))
	for _, tc := range calls {
		want[tc.ID] = struct{}{}
	}
	got := make(map[string]struct{}, len(results))
	for _, r := range results {
		got[r.ToolCallID] = struct{}{}
	}
	if len(want) != len(got) {
		return false
	}
	for id := range want {
		if _, ok := got[id]; !ok {
			return false
		}
	}
	return true
}
