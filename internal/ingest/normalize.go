// Package ingest maps raw scraped records onto the canonical event schema.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"campusevents/internal/classify"
	"campusevents/internal/dates"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
)

// ShortDescriptionLen is the rune length of a derived short description.
const ShortDescriptionLen = 200

// RawEvent is one listing as extracted from a source, before validation.
type RawEvent struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	Location         string `json:"location"`
	RegistrationLink string `json:"registrationLink"`
	ImageURL         string `json:"imageUrl"`

	// Categories are labels published by the source itself (ICS CATEGORIES).
	Categories []string `json:"categories,omitempty"`

	// Key optionally identifies the listing within its source (e.g. an ICS
	// UID plus occurrence). When empty one is derived from name and date.
	Key string `json:"key,omitempty"`
}

// SourceConfig is the per-source metadata stamped onto accepted events.
type SourceConfig struct {
	ID       string
	Name     string
	URL      string
	School   string
	Category []string
}

// Reject reasons.
const (
	ReasonMissingName = "missing name"
	ReasonInvalidDate = "invalid date"
)

// RejectedError reports why a raw record produced no event.
type RejectedError struct {
	Reason string
	Raw    RawEvent
}

func (e *RejectedError) Error() string {
	if e.Reason == ReasonInvalidDate {
		return fmt.Sprintf("ingest: rejected: %s - %q", e.Reason, e.Raw.Date)
	}
	return "ingest: rejected: " + e.Reason
}

// Normalizer converts raw records. Zero values are usable: a nil Classifier
// falls back to classify.Default() and a nil Location to time.Local.
type Normalizer struct {
	Classifier *classify.Classifier
	Location   *time.Location
}

// Normalize validates raw and builds an event, or returns *RejectedError.
// Records are rejected when the name is empty or the date does not parse.
func (n Normalizer) Normalize(raw RawEvent, src SourceConfig, now time.Time) (model.Event, error) {
	name := CleanText(raw.Name)
	if name == "" {
		return model.Event{}, &RejectedError{Reason: ReasonMissingName, Raw: raw}
	}
	date, ok := dates.Parse(raw.Date, n.location())
	if !ok {
		return model.Event{}, &RejectedError{Reason: ReasonInvalidDate, Raw: raw}
	}

	description := CleanText(raw.Description)
	classifier := n.Classifier
	if classifier == nil {
		classifier = classify.Default()
	}
	res := classifier.Classify(raw.Name, raw.Description)

	ev := model.Event{
		Name:             name,
		Date:             &date,
		School:           src.School,
		SourceID:         src.ID,
		SourceURL:        src.URL,
		Organization:     src.Name,
		Description:      description,
		ShortDescription: truncateRunes(description, ShortDescriptionLen),
		Time:             orDefault(CleanText(raw.Time), model.TimeTBD),
		Location:         orDefault(CleanText(raw.Location), model.LocationTBD),
		LocationType:     DetectLocationType(raw.Location),
		Category:         classify.MergeCategories(res.Categories, src.Category, raw.Categories),
		Tags:             res.Tags,
		RegistrationLink: strings.TrimSpace(raw.RegistrationLink),
		ImageURL:         strings.TrimSpace(raw.ImageURL),
		IsActive:         date.After(now),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ev.SourceKey = raw.Key
	if ev.SourceKey == "" {
		ev.SourceKey = sourceKey(name, date)
	}
	return ev, nil
}

func (n Normalizer) location() *time.Location {
	if n.Location == nil {
		return time.Local
	}
	return n.Location
}

// Rejection pairs a rejected record with its position in the batch.
type Rejection struct {
	Index int
	Err   *RejectedError
}

// Batch is the outcome of normalizing many records.
type Batch struct {
	Accepted []model.Event
	Rejected []Rejection
}

// NormalizeBatch normalizes every record independently; a rejected record is
// logged and skipped, never aborting the rest.
func (n Normalizer) NormalizeBatch(raws []RawEvent, src SourceConfig, now time.Time) Batch {
	b := Batch{Accepted: make([]model.Event, 0, len(raws))}
	for i, raw := range raws {
		ev, err := n.Normalize(raw, src, now)
		if err != nil {
			var rej *RejectedError
			if !errors.As(err, &rej) {
				rej = &RejectedError{Reason: err.Error(), Raw: raw}
			}
			appLog.Info("skipping event", "source", src.ID, "index", i, "reason", rej.Reason, "raw_date", raw.Date)
			b.Rejected = append(b.Rejected, Rejection{Index: i, Err: rej})
			continue
		}
		b.Accepted = append(b.Accepted, ev)
	}
	return b
}

var (
	virtualKeywords = []string{"zoom", "virtual", "online", "webinar", "teams"}
	hybridKeyword   = "hybrid"
)

// DetectLocationType classifies location text as virtual, hybrid or physical.
// Virtual keywords take precedence over "hybrid".
func DetectLocationType(location string) string {
	if location == "" {
		return model.LocationPhysical
	}
	l := strings.ToLower(location)
	for _, kw := range virtualKeywords {
		if strings.Contains(l, kw) {
			return model.LocationVirtual
		}
	}
	if strings.Contains(l, hybridKeyword) {
		return model.LocationHybrid
	}
	return model.LocationPhysical
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	newlineRun    = regexp.MustCompile(`\n+`)
)

// CleanText trims text, collapses whitespace runs to one space and newline
// runs to one newline. Whitespace collapsing runs first, so the result holds
// no newlines.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.TrimSpace(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return newlineRun.ReplaceAllString(s, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sourceKey(name string, date time.Time) string {
	sum := sha256.Sum256([]byte(strings.ToLower(name) + "|" + date.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:8])
}
