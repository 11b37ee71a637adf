package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{Secret: "0123456789abcdef0123", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	require.NoError(t, err)
	return m
}

func TestManager_IssueAndParse(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	tokens, err := m.Issue(domain.User{ID: 7, Staff: true})
	require.NoError(t, err)
	require.True(t, tokens.RefreshExpiresAt.After(tokens.AccessExpiresAt))

	principal, err := m.ParseAccess(tokens.Access)
	require.NoError(t, err)
	require.Equal(t, Principal{UserID: 7, Staff: true}, principal)

	userID, err := m.ParseRefresh(tokens.Refresh)
	require.NoError(t, err)
	require.EqualValues(t, 7, userID)
}

func TestManager_RejectsWrongKindAndTampering(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	tokens, err := m.Issue(domain.User{ID: 3})
	require.NoError(t, err)

	_, err = m.ParseAccess(tokens.Refresh)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.ParseRefresh(tokens.Access)
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewManager(Config{Secret: "another-secret-0123456"})
	require.NoError(t, err)
	_, err = other.ParseAccess(tokens.Access)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ParseAccess("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_RejectsExpired(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	issuedAt := time.Now().Add(-2 * time.Minute)
	m.now = func() time.Time { return issuedAt }
	tokens, err := m.Issue(domain.User{ID: 1})
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ParseAccess(tokens.Access)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewManager_ShortSecret(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Config{Secret: "short"})
	require.Error(t, err)
}
