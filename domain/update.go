package domain

// ProfileUpdate carries a field-level merge onto an existing User.
// Nil fields keep their prior values. ID and CreatedAt are deliberately
// not representable here: they must survive every update.
type ProfileUpdate struct {
	Name         *string            `json:"name,omitempty"`
	Avatar       *string            `json:"avatar,omitempty"`
	Subscription *SubscriptionTier  `json:"subscription,omitempty"`
	Preferences  *PreferencesUpdate `json:"preferences,omitempty"`
}

// PreferencesUpdate mirrors Preferences with optional fields.
type PreferencesUpdate struct {
	Theme                *string `json:"theme,omitempty"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
	AutoDownloadEnabled  *bool   `json:"auto_download_enabled,omitempty"`
	StreamQuality        *string `json:"stream_quality,omitempty"`
}

// IsEmpty reports whether the update would change nothing.
func (p *ProfileUpdate) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Name == nil && p.Avatar == nil && p.Subscription == nil && p.Preferences == nil
}

// Apply merges the provided fields onto user, leaving all others intact.
func (p *ProfileUpdate) Apply(user *User) {
	if p == nil || user == nil {
		return
	}
	if p.Name != nil {
		user.Name = *p.Name
	}
	if p.Avatar != nil {
		user.Avatar = *p.Avatar
	}
	if p.Subscription != nil {
		user.Subscription = *p.Subscription
	}
	if p.Preferences != nil {
		p.Preferences.apply(&user.Preferences)
	}
}

func (p *PreferencesUpdate) apply(prefs *Preferences) {
	if p.Theme != nil {
		prefs.Theme = *p.Theme
	}
	if p.NotificationsEnabled != nil {
		prefs.NotificationsEnabled = *p.NotificationsEnabled
	}
	if p.AutoDownloadEnabled != nil {
		prefs.AutoDownloadEnabled = *p.AutoDownloadEnabled
	}
	if p.StreamQuality != nil {
		prefs.StreamQuality = *p.StreamQuality
	}
}
