package model

import "time"

// Sentinels shown in place of absent free-text fields.
const (
	DateTBD     = "Date TBD"
	TimeTBD     = "Time TBD"
	LocationTBD = "Location TBD"

	DefaultCategory = "general"
)

// Location types derived from the location text at ingestion.
const (
	LocationPhysical = "physical"
	LocationVirtual  = "virtual"
	LocationHybrid   = "hybrid"
)

// Event is the canonical event record stored in the events collection.
//
// Date is nil when the source had no usable date. Browsing shows such events
// with a "Date TBD" sentinel; ingestion never produces them (records with an
// unparseable date are rejected there).
type Event struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Date     *time.Time `json:"date,omitempty"`
	Time     string     `json:"time,omitempty"`
	Location string     `json:"location,omitempty"`

	LocationType string   `json:"locationType,omitempty"`
	Category     []string `json:"category"`
	Tags         []string `json:"tags,omitempty"`

	School       string `json:"school,omitempty"`
	Organization string `json:"organization,omitempty"`

	Description      string `json:"description,omitempty"`
	ShortDescription string `json:"shortDescription,omitempty"`

	RegistrationLink string `json:"registrationLink,omitempty"`
	ImageURL         string `json:"imageUrl,omitempty"`

	// SourceID / SourceURL / SourceKey identify where a scraped event came
	// from. SourceKey is stable across re-scrapes of the same listing.
	SourceID  string `json:"sourceId,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
	SourceKey string `json:"sourceKey,omitempty"`

	IsActive bool `json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasDate reports whether the event carries a concrete date.
func (e Event) HasDate() bool {
	return e.Date != nil && !e.Date.IsZero()
}

// TimeOrTBD returns the free-text time or the TBD sentinel.
func (e Event) TimeOrTBD() string {
	if e.Time == "" {
		return TimeTBD
	}
	return e.Time
}

// LocationOrTBD returns the free-text location or the TBD sentinel.
func (e Event) LocationOrTBD() string {
	if e.Location == "" {
		return LocationTBD
	}
	return e.Location
}

// EmailPreferences controls digest and reminder mails for a user.
type EmailPreferences struct {
	DigestFrequency string `json:"digestFrequency"`
	EventAlerts     bool   `json:"eventAlerts"`
	// ReminderBefore is in hours.
	ReminderBefore int `json:"reminderBefore"`
}

// DefaultEmailPreferences mirrors what a first sign-in stores.
func DefaultEmailPreferences() EmailPreferences {
	return EmailPreferences{
		DigestFrequency: "weekly",
		EventAlerts:     true,
		ReminderBefore:  24,
	}
}

// MaxViewedEvents caps the most-recent-first viewed list.
const MaxViewedEvents = 50

// MaxSavedEventsShown limits how many saved events a profile page resolves.
const MaxSavedEventsShown = 10

// User is the profile document stored in the users collection, keyed by the
// identity provider's uid.
type User struct {
	UID       string `json:"uid"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	PhotoURL  string `json:"photoURL"`

	School  string `json:"school"`
	Year    string `json:"year"`
	Program string `json:"program"`

	Interests   []string `json:"interests"`
	CareerGoals []string `json:"careerGoals"`

	SavedEvents  []string `json:"savedEvents"`
	ViewedEvents []string `json:"viewedEvents"`

	EmailPreferences EmailPreferences `json:"emailPreferences"`

	CreatedAt time.Time  `json:"createdAt"`
	LastLogin time.Time  `json:"lastLogin"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	IsActive  bool       `json:"isActive"`
}
