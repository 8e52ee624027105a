package summary

import (
	"encoding/json"
	"fmt"
	"strings"

	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/Lllllllleong/meetingrecordingflow/internal/models"
)

// rawSummary is the JSON shape requested from the model. Minutes may come
// back as a string or a list of paragraphs.
type rawSummary struct {
	Title            string          `json:"title"`
	Minutes          flexText        `json:"minutes"`
	ActionItems      []rawActionItem `json:"actionItems"`
	ActionItemsSnake []rawActionItem `json:"action_items"`
	NextMeeting      *rawNextMeeting `json:"nextMeeting"`
	NextMeetingSnake *rawNextMeeting `json:"next_meeting"`
}

type rawActionItem struct {
	Task     string   `json:"task"`
	Assignee string   `json:"assignee"`
	Deadline flexText `json:"deadline"`
	Priority string   `json:"priority"`
}

type rawNextMeeting struct {
	Date     flexText `json:"date"`
	Location flexText `json:"location"`
	Notes    flexText `json:"notes"`
}

// flexText accepts a JSON string, a list of strings, or null.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexText(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = flexText(strings.Join(list, "\n"))
		return nil
	}
	return fmt.Errorf("expected string or list of strings, got %s", trimmed)
}

// Parse extracts the first balanced JSON object in raw that decodes as a
// summary. It returns *errors.SummaryParseError when none does.
func Parse(raw string) (models.Summary, error) {
	var lastErr error = fmt.Errorf("no JSON object found")

	for start := strings.IndexByte(raw, '{'); start >= 0; {
		candidate, ok := balancedObject(raw[start:])
		if ok {
			var parsed rawSummary
			err := json.Unmarshal([]byte(candidate), &parsed)
			if err == nil {
				if s, ok := normalize(parsed); ok {
					return s, nil
				}
				err = fmt.Errorf("JSON object has neither title nor minutes")
			}
			lastErr = err
		}

		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return models.Summary{}, &rferrors.SummaryParseError{Raw: raw, Cause: lastErr}
}

// balancedObject returns the prefix of s (which starts with '{') up to its
// matching '}'. Braces inside JSON strings are ignored.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func normalize(raw rawSummary) (models.Summary, bool) {
	title := strings.TrimSpace(raw.Title)
	minutes := strings.TrimSpace(string(raw.Minutes))
	items := raw.ActionItems
	if len(items) == 0 {
		items = raw.ActionItemsSnake
	}
	if title == "" && minutes == "" && len(items) == 0 {
		return models.Summary{}, false
	}
	if title == "" {
		title = FallbackTitle
	}

	out := models.Summary{
		Title:       title,
		Minutes:     minutes,
		ActionItems: make([]models.ActionItem, 0, len(items)),
	}
	for _, item := range items {
		task := strings.TrimSpace(item.Task)
		if task == "" {
			continue
		}
		assignee := strings.TrimSpace(item.Assignee)
		if assignee == "" {
			assignee = DefaultAssignee
		}
		out.ActionItems = append(out.ActionItems, models.ActionItem{
			Task:     task,
			Assignee: assignee,
			Deadline: optional(item.Deadline),
			Priority: normalizePriority(item.Priority),
		})
	}

	next := raw.NextMeeting
	if next == nil {
		next = raw.NextMeetingSnake
	}
	if next != nil {
		nm := models.NextMeeting{
			Date:     optional(next.Date),
			Location: optional(next.Location),
			Notes:    optional(next.Notes),
		}
		if nm.Date != nil || nm.Location != nil || nm.Notes != nil {
			out.NextMeeting = &nm
		}
	}
	return out, true
}

func normalizePriority(p string) models.Priority {
	switch models.Priority(strings.ToLower(strings.TrimSpace(p))) {
	case models.PriorityHigh:
		return models.PriorityHigh
	case models.PriorityLow:
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}

// optional maps empty and placeholder values to nil.
func optional(v flexText) *string {
	s := strings.TrimSpace(string(v))
	switch strings.ToLower(s) {
	case "", "null", "none", "n/a":
		return nil
	}
	return &s
}
