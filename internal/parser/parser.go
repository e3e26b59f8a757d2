// Package parser converts free-form Japanese text, usually a voice
// transcription, into structured task drafts.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajisai/yotei/internal/category"
	"github.com/ajisai/yotei/internal/model"
)

// PlaceholderTitle stands in when stripping recognized phrases leaves
// nothing behind.
const PlaceholderTitle = "音声メモ"

const (
	defaultHour            = 9
	defaultDurationMinutes = 30
)

// Urgency vocabulary; any hit promotes the task to high priority.
var priorityKeywords = []string{"重要", "緊急", "至急"}

var tagRe = regexp.MustCompile(`#[^\s　#]+`)

// Parser builds Task drafts from one-line text inputs. It classifies
// against an injected category catalog so tests can swap in alternates.
type Parser struct {
	catalog category.Catalog
}

// New returns a Parser using the given catalog, or the built-in one when
// catalog is empty.
func New(catalog category.Catalog) *Parser {
	if len(catalog) == 0 {
		catalog = category.Default()
	}
	return &Parser{catalog: catalog}
}

// Parse converts text into a Task draft filed under targetDate. The calendar
// date always comes from targetDate; voice phrases only need to carry a
// time-of-day, and any date words in the text are stripped but not obeyed.
// Parse never fails: input with no recognizable structure becomes a draft
// titled 音声メモ with the default time, duration and priority.
func (p *Parser) Parse(text string, targetDate time.Time) model.Task {
	claims := &spanSet{}

	hour, minute := defaultHour, 0
	if h, m, ok := extractTimeOfDay(text, claims); ok {
		hour, minute = h, m
	}
	occursAt := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(),
		hour, minute, 0, 0, targetDate.Location())

	duration := extractDuration(text, claims)
	if duration <= 0 {
		duration = defaultDurationMinutes
	}

	priority := model.PriorityNormal
	for _, kw := range priorityKeywords {
		if markAll(text, kw, claims) {
			priority = model.PriorityHigh
		}
	}

	categoryID := ""
	if cat, token, ok := p.catalog.Match(text); ok {
		categoryID = cat.ID
		markAll(text, token, claims)
	}

	var tags []string
	for _, m := range tagRe.FindAllStringIndex(text, -1) {
		claims.mark(m[0], m[1])
		tags = append(tags, text[m[0]+1:m[1]])
	}

	task := model.Task{
		ID:              uuid.NewString(),
		Note:            text,
		OccursAt:        occursAt,
		DurationMinutes: duration,
		Priority:        priority,
		Notify:          priority == model.PriorityHigh,
		Category:        categoryID,
		Tags:            tags,
	}
	if rule := detectRecurrence(text, occursAt, claims); rule != nil {
		task.Recurrence = rule
		task.RecurrenceGroupID = uuid.NewString()
	}

	title := strings.Join(strings.Fields(claims.strip(text)), " ")
	if title == "" {
		title = PlaceholderTitle
	}
	task.Title = title
	return task
}

// markAll marks every occurrence of token for stripping and reports whether
// any was found.
func markAll(text, token string, claims *spanSet) bool {
	found := false
	for idx := 0; ; {
		j := strings.Index(text[idx:], token)
		if j < 0 {
			break
		}
		claims.mark(idx+j, idx+j+len(token))
		found = true
		idx += j + len(token)
	}
	return found
}
