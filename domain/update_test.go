package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProfileUpdateApplyMergesOnlySetFields(t *testing.T) {
	user := NewUser("a@b.com", "Ann")
	user.Avatar = "old.png"
	created := user.CreatedAt

	name := "Annie"
	tier := TierPremium
	quality := "low"
	update := &ProfileUpdate{
		Name:         &name,
		Subscription: &tier,
		Preferences:  &PreferencesUpdate{StreamQuality: &quality},
	}
	update.Apply(user)

	require.Equal(t, "Annie", user.Name)
	require.Equal(t, TierPremium, user.Subscription)
	require.Equal(t, "low", user.Preferences.StreamQuality)

	// untouched fields keep their prior values
	require.Equal(t, "old.png", user.Avatar)
	require.Equal(t, "dark", user.Preferences.Theme)
	require.Equal(t, created, user.CreatedAt)
}

func TestProfileUpdateApplyFalseBool(t *testing.T) {
	user := NewUser("a@b.com", "Ann")
	require.True(t, user.Preferences.NotificationsEnabled)

	off := false
	(&ProfileUpdate{Preferences: &PreferencesUpdate{NotificationsEnabled: &off}}).Apply(user)
	require.False(t, user.Preferences.NotificationsEnabled)
}

func TestProfileUpdateIsEmpty(t *testing.T) {
	var nilUpdate *ProfileUpdate
	require.True(t, nilUpdate.IsEmpty())
	require.True(t, (&ProfileUpdate{}).IsEmpty())

	name := "x"
	require.False(t, (&ProfileUpdate{Name: &name}).IsEmpty())
}

func TestUserCloneIsIndependent(t *testing.T) {
	user := NewUser("a@b.com", "Ann")
	user.TouchLogin(time.Now())

	cp := user.Clone()
	cp.Name = "Changed"
	*cp.LastLogin = cp.LastLogin.Add(time.Hour)

	require.Equal(t, "Ann", user.Name)
	require.NotEqual(t, *user.LastLogin, *cp.LastLogin)
}
