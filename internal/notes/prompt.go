package notes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/koe/internal/koetypes"
)

// BuildPrompt renders the summarizer prompt for one cycle: the patch
// JSON schema and authoring rules, optional free-text context and
// participant list, the finalized transcript window, and the current
// notes state so the backend can reuse stable ids. Grounded on the
// original implementation's summarizer/patch.rs::build_prompt.
func BuildPrompt(recent []koetypes.TranscriptSegment, current *koetypes.MeetingNotes, contextText string, participants []string) string {
	var lines []string
	for _, seg := range recent {
		if !seg.Finalized {
			continue
		}
		text := strings.TrimSpace(seg.Text)
		if seg.Speaker != "" {
			lines = append(lines, fmt.Sprintf("[%d-%d] %s: %s", seg.StartMS, seg.EndMS, seg.Speaker, text))
		} else {
			lines = append(lines, fmt.Sprintf("[%d-%d] %s", seg.StartMS, seg.EndMS, text))
		}
	}
	transcript := strings.Join(lines, "\n")

	stateJSON, err := json.Marshal(current)
	if err != nil {
		stateJSON = []byte("{}")
	}

	var contextBlock string
	if contextText != "" {
		contextBlock = fmt.Sprintf("Context:\n%s\n\n", contextText)
	}

	var participantsBlock string
	var cleaned []string
	for _, p := range participants {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		participantsBlock = fmt.Sprintf("Participants: %s\n\n", strings.Join(cleaned, ", "))
	}

	return fmt.Sprintf(`You are a meeting notes engine. Return ONLY valid JSON with this schema:
{
  "ops": [
    {"op": "add_key_point", "id": "kp_1", "text": "...", "evidence": [1,2]}
  ]
}

Rules:
- patch-only: add/update ops only, no deletes
- stable IDs: reuse IDs when updating
- evidence is a list of transcript segment IDs
- if no updates, return {"ops": []}
- keep notes minimal and information-dense, no filler or repetition
- prefer short noun phrases; avoid full sentences when possible
- each text is <= 120 characters and <= 1 sentence
- return at most 5 ops per response
- if a transcript line includes a speaker label, preserve it in note text as "Me:" or "Them:"

%s%sTranscript:
%s

Current state JSON:
%s
`, contextBlock, participantsBlock, transcript, stateJSON)
}

// ParsePatch extracts and decodes a NotesPatch from a backend's raw
// text output, tolerating surrounding prose around the JSON object.
func ParsePatch(output string) (koetypes.NotesPatch, error) {
	var payload patchPayload
	if err := json.Unmarshal([]byte(output), &payload); err == nil {
		return payload.toPatch(), nil
	}

	obj, ok := extractJSONObject(output)
	if !ok {
		return koetypes.NotesPatch{}, &koetypes.SummarizeError{Kind: koetypes.SummarizeParseFailure, Err: fmt.Errorf("no json object found in output")}
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return koetypes.NotesPatch{}, &koetypes.SummarizeError{Kind: koetypes.SummarizeParseFailure, Err: err}
	}
	return payload.toPatch(), nil
}

func extractJSONObject(input string) (string, bool) {
	start := strings.IndexByte(input, '{')
	end := strings.LastIndexByte(input, '}')
	if start < 0 || end < 0 || end <= start {
		return "", false
	}
	return input[start : end+1], true
}

type patchPayload struct {
	Ops []patchOpPayload `json:"ops"`
}

func (p patchPayload) toPatch() koetypes.NotesPatch {
	ops := make([]koetypes.NotesOp, 0, len(p.Ops))
	for _, op := range p.Ops {
		converted, ok := op.toOp()
		if ok {
			ops = append(ops, converted)
		}
	}
	return koetypes.NotesPatch{Ops: ops}
}

type patchOpPayload struct {
	Op       string   `json:"op"`
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Owner    *string  `json:"owner"`
	Due      *string  `json:"due"`
	Evidence []uint64 `json:"evidence"`
}

func (op patchOpPayload) toOp() (koetypes.NotesOp, bool) {
	switch op.Op {
	case "add_key_point":
		return koetypes.NotesOp{Kind: koetypes.OpAddKeyPoint, ID: op.ID, Text: op.Text, Evidence: op.Evidence}, true
	case "add_decision":
		return koetypes.NotesOp{Kind: koetypes.OpAddDecision, ID: op.ID, Text: op.Text, Evidence: op.Evidence}, true
	case "add_action":
		return koetypes.NotesOp{Kind: koetypes.OpAddAction, ID: op.ID, Text: op.Text, Owner: op.Owner, Due: op.Due, Evidence: op.Evidence}, true
	case "update_action":
		return koetypes.NotesOp{Kind: koetypes.OpUpdateAction, ID: op.ID, Owner: op.Owner, Due: op.Due}, true
	default:
		return koetypes.NotesOp{}, false
	}
}
