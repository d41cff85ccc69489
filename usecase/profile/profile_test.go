package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riseandspeak/backend/domain"
)

type fakeUsers struct {
	users      map[string]*domain.User
	updateErr  error
	updateSeen int
}

func newFakeUsers(seed ...*domain.User) *fakeUsers {
	f := &fakeUsers{users: make(map[string]*domain.User)}
	for _, u := range seed {
		f.users[u.ID] = u.Clone()
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, domain.ErrUserNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, _ string) (*domain.User, error) {
	return nil, domain.ErrUserNotFound
}

func (f *fakeUsers) Create(_ context.Context, user *domain.User) error {
	f.users[user.ID] = user.Clone()
	return nil
}

func (f *fakeUsers) Update(_ context.Context, user *domain.User) error {
	f.updateSeen++
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.users[user.ID]; !ok {
		return domain.ErrUserNotFound
	}
	f.users[user.ID] = user.Clone()
	return nil
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	delete(f.users, id)
	return nil
}

type fakeBuffer struct {
	buffered []*domain.User
	err      error
}

func (f *fakeBuffer) BufferProfile(_ context.Context, user *domain.User) error {
	if f.err != nil {
		return f.err
	}
	f.buffered = append(f.buffered, user.Clone())
	return nil
}

func TestUpdateProfileMergesAndPersists(t *testing.T) {
	user := domain.NewUser("a@b.com", "Ann")
	users := newFakeUsers(user)
	uc := New(users, nil, nil)

	name := "Annie"
	theme := "light"
	updated, err := uc.UpdateProfile(context.Background(), user.ID, &domain.ProfileUpdate{
		Name:        &name,
		Preferences: &domain.PreferencesUpdate{Theme: &theme},
	})
	require.NoError(t, err)
	require.Equal(t, "Annie", updated.Name)
	require.Equal(t, "light", updated.Preferences.Theme)
	require.Equal(t, user.ID, updated.ID)
	require.Equal(t, user.CreatedAt, updated.CreatedAt)

	stored, err := uc.GetProfile(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "Annie", stored.Name)
}

func TestUpdateProfileEmptyUpdateIsNoop(t *testing.T) {
	user := domain.NewUser("a@b.com", "Ann")
	users := newFakeUsers(user)
	uc := New(users, nil, nil)

	got, err := uc.UpdateProfile(context.Background(), user.ID, &domain.ProfileUpdate{})
	require.NoError(t, err)
	require.Equal(t, "Ann", got.Name)
	require.Zero(t, users.updateSeen)
}

func TestUpdateProfileUnknownUser(t *testing.T) {
	uc := New(newFakeUsers(), nil, nil)
	name := "x"
	_, err := uc.UpdateProfile(context.Background(), "missing", &domain.ProfileUpdate{Name: &name})
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUpdateProfileBuffersOnStoreFailure(t *testing.T) {
	user := domain.NewUser("a@b.com", "Ann")
	users := newFakeUsers(user)
	users.updateErr = domain.ErrRemoteUnavailable
	buffer := &fakeBuffer{}
	uc := New(users, buffer, nil)

	name := "Annie"
	updated, err := uc.UpdateProfile(context.Background(), user.ID, &domain.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Annie", updated.Name)

	require.Len(t, buffer.buffered, 1)
	require.Equal(t, "Annie", buffer.buffered[0].Name)
}

func TestUpdateProfileFailsWhenBufferFails(t *testing.T) {
	user := domain.NewUser("a@b.com", "Ann")
	users := newFakeUsers(user)
	users.updateErr = domain.ErrRemoteUnavailable
	buffer := &fakeBuffer{err: domain.ErrRemoteUnavailable}
	uc := New(users, buffer, nil)

	name := "Annie"
	_, err := uc.UpdateProfile(context.Background(), user.ID, &domain.ProfileUpdate{Name: &name})
	require.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}
