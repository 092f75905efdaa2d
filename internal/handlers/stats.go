package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/eldtechnologies/batepapo/internal/models"
)

const recentMessages = 5

// MessagePreview represents a preview of a public message.
type MessagePreview struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Text string `json:"text"`
	Time string `json:"time"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	Participants   int              `json:"participants"`
	LastActivity   string           `json:"last_activity"`
	RecentMessages []MessagePreview `json:"recent_messages"`
}

// Stats returns room statistics. Only public messages are previewed.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	participants, err := h.registry.List(ctx)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	limit := recentMessages
	msgs, err := h.messages.List(ctx, "", &limit)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	lastActivity := "no activity yet"
	if len(participants) > 0 {
		latest := lo.MaxBy(participants, func(a, b models.Participant) bool {
			return a.LastStatus.After(b.LastStatus)
		})
		lastActivity = formatTimeAgo(latest.LastStatus)
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		Participants: len(participants),
		LastActivity: lastActivity,
		RecentMessages: lo.Map(msgs, func(m models.Message, _ int) MessagePreview {
			text := []rune(m.Text)
			if len(text) > 200 {
				text = append(text[:197], []rune("...")...)
			}
			return MessagePreview{ID: m.ID, From: m.From, Text: string(text), Time: m.Time}
		}),
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
