package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/becomeliminal/avadhan/core"
	"github.com/google/uuid"
)

// ConsolidateSlotToGist copies a slot into a new gist. The vector is kept
// verbatim and the slot's priority becomes the gist's confidence.
func ConsolidateSlotToGist(slot core.Slot, summaryText string, now time.Time) core.Gist {
	if summaryText == "" {
		summaryText = fmt.Sprintf("Consolidated from slot %d", slot.Index)
	}
	return core.Gist{
		ID:     uuid.NewString(),
		Text:   summaryText,
		Vector: append([]float64(nil), slot.StateVector...),
		Provenance: core.Provenance{
			SlotID:    slot.ID,
			CreatedAt: now,
			ThreadID:  slot.Metadata.ThreadID,
			Excerpt:   slot.Metadata.Excerpt,
		},
		Confidence: slot.Priority,
	}
}

// RecordFor converts a gist into its index record.
func RecordFor(projectID string, tier Tier, g core.Gist) Record {
	return Record{
		ProjectID: projectID,
		Tier:      tier,
		GistID:    g.ID,
		Text:      g.Text,
		SlotID:    g.Provenance.SlotID,
		ThreadID:  g.Provenance.ThreadID,
		Excerpt:   g.Provenance.Excerpt,
		Vector:    append([]float64(nil), g.Vector...),
	}
}

// FormatContext controls how much of a record Format may print.
type FormatContext struct {
	Query     string
	MaxLength int
}

// Format renders a hit for display or prompt injection.
func (h Hit) Format(ctx FormatContext) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s %.2f] %s", h.Gist.Tier, h.Similarity, truncate(h.Gist.Text, ctx.MaxLength/2)))

	if h.Gist.ThreadID != "" {
		parts = append(parts, fmt.Sprintf("  Thread: %s", h.Gist.ThreadID))
	}

	// Use up to 50% of space for the excerpt
	if h.Gist.Excerpt != "" {
		parts = append(parts, fmt.Sprintf("  Excerpt: %q", truncate(h.Gist.Excerpt, ctx.MaxLength/2)))
	}

	return strings.Join(parts, "\n")
}

// Excerpt shortens text for slot metadata.
func Excerpt(text string, maxLen int) string {
	return truncate(strings.TrimSpace(text), maxLen)
}

// truncate truncates a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
