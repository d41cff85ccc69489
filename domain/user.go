package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier classifies the account's plan.
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierPremium SubscriptionTier = "premium"
	TierCreator SubscriptionTier = "creator"
)

// Preferences holds user-adjustable playback and notification settings.
type Preferences struct {
	Theme                string `json:"theme"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	AutoDownloadEnabled  bool   `json:"auto_download_enabled"`
	StreamQuality        string `json:"stream_quality"`
}

// Stats aggregates listening counters maintained outside the auth core.
type Stats struct {
	EpisodesListened int `json:"episodes_listened"`
	HoursListened    int `json:"hours_listened"`
	PodcastsCreated  int `json:"podcasts_created"`
	Followers        int `json:"followers"`
}

// User represents an authenticated identity in the platform.
type User struct {
	ID           string           `json:"id"`
	Email        string           `json:"email"`
	Name         string           `json:"name"`
	PasswordHash string           `json:"-"`
	Avatar       string           `json:"avatar,omitempty"`
	IsVerified   bool             `json:"is_verified"`
	Subscription SubscriptionTier `json:"subscription"`
	CreatedAt    time.Time        `json:"created_at"`
	LastLogin    *time.Time       `json:"last_login,omitempty"`
	Preferences  Preferences      `json:"preferences"`
	Stats        Stats            `json:"stats"`
}

// DefaultPreferences are assigned at account creation.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:                "dark",
		NotificationsEnabled: true,
		AutoDownloadEnabled:  false,
		StreamQuality:        "high",
	}
}

// NewUser creates a fresh account record: free tier, unverified, zeroed stats.
func NewUser(email, name string) *User {
	return &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Subscription: TierFree,
		CreatedAt:    time.Now().UTC(),
		Preferences:  DefaultPreferences(),
	}
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}

// TouchLogin records a successful authentication time.
func (u *User) TouchLogin(at time.Time) {
	at = at.UTC()
	u.LastLogin = &at
}
