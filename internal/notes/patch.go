// Package notes implements the notes engine (spec.md 4.6): a scheduler
// that periodically (and on trigger phrases) asks a pluggable
// summarizer backend for a patch against the running meeting notes,
// and applies that patch with add-or-ignore idempotency. Grounded on
// the original implementation's summarizer/patch.rs (prompt shape,
// patch parsing) and koe-cli/src/tui.rs's apply_notes_patch/
// upsert_note/upsert_action (patch application), adapted to this
// repo's add-or-ignore semantics rather than the original's upsert.
package notes

import (
	"github.com/rs/zerolog"

	"github.com/user/koe/internal/koetypes"
)

// EvidenceChecker reports whether a transcript segment id currently
// exists, so dangling evidence references from a patch can be dropped.
type EvidenceChecker interface {
	HasID(id uint64) bool
}

// ApplyPatch applies patch to a clone of current; current itself is never
// modified. If any op changed the clone, the clone is returned with true;
// otherwise current is returned with false. Ops of unknown kind and
// updates of missing actions are skipped rather than failing the patch.
// Per spec.md 4.6, add ops are add-or-ignore by id and update ops only
// patch existing items; no operation ever deletes.
func ApplyPatch(current *koetypes.MeetingNotes, patch koetypes.NotesPatch, evidence EvidenceChecker, log zerolog.Logger) (*koetypes.MeetingNotes, bool) {
	next := current.Clone()
	changed := false

	for _, op := range patch.Ops {
		switch op.Kind {
		case koetypes.OpAddKeyPoint:
			if addNote(&next.KeyPoints, op, evidence) {
				changed = true
			}
		case koetypes.OpAddDecision:
			if addNote(&next.Decisions, op, evidence) {
				changed = true
			}
		case koetypes.OpAddAction:
			if addAction(&next.Actions, op, evidence) {
				changed = true
			}
		case koetypes.OpUpdateAction:
			if updateAction(next.Actions, op, log) {
				changed = true
			}
		default:
			log.Warn().Int("kind", int(op.Kind)).Msg("notes patch: unknown op kind, ignoring")
		}
	}

	if !changed {
		return current, false
	}
	return next, true
}

func filterEvidence(ids []uint64, evidence EvidenceChecker) []uint64 {
	var out []uint64
	for _, id := range ids {
		if evidence.HasID(id) {
			out = append(out, id)
		}
	}
	return out
}

func addNote(items *[]koetypes.NoteItem, op koetypes.NotesOp, evidence EvidenceChecker) bool {
	for _, item := range *items {
		if item.ID == op.ID {
			return false
		}
	}
	*items = append(*items, koetypes.NoteItem{
		ID:       op.ID,
		Text:     op.Text,
		Evidence: filterEvidence(op.Evidence, evidence),
	})
	return true
}

func addAction(items *[]koetypes.ActionItem, op koetypes.NotesOp, evidence EvidenceChecker) bool {
	for _, item := range *items {
		if item.ID == op.ID {
			return false
		}
	}
	item := koetypes.ActionItem{
		ID:       op.ID,
		Text:     op.Text,
		Evidence: filterEvidence(op.Evidence, evidence),
	}
	if op.Owner != nil {
		item.Owner = *op.Owner
	}
	if op.Due != nil {
		item.Due = *op.Due
	}
	*items = append(*items, item)
	return true
}

func updateAction(items []koetypes.ActionItem, op koetypes.NotesOp, log zerolog.Logger) bool {
	for i := range items {
		if items[i].ID != op.ID {
			continue
		}
		changed := false
		if op.Owner != nil && items[i].Owner != *op.Owner {
			items[i].Owner = *op.Owner
			changed = true
		}
		if op.Due != nil && items[i].Due != *op.Due {
			items[i].Due = *op.Due
			changed = true
		}
		return changed
	}
	log.Warn().Str("id", op.ID).Msg("update_action: no matching action, ignoring")
	return false
}
