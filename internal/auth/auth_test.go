package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"finvue/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeMailer struct {
	mu    sync.Mutex
	links map[string]string
	err   error
}

func (m *fakeMailer) SendConfirmation(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = make(map[string]string)
	}
	m.links[to] = link
	return m.err
}

func (m *fakeMailer) tokenFor(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[to]
	require.True(t, ok, "no confirmation sent to %s", to)
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func newTestService(t *testing.T, requireConfirmation bool) (*Service, *fakeMailer) {
	t.Helper()
	mailer := &fakeMailer{}
	s := NewService(memory.New(), mailer, Config{
		Secret:              []byte("test-secret"),
		RequireConfirmation: requireConfirmation,
		PublicBaseURL:       "https://finvue.test/",
		BcryptCost:          bcrypt.MinCost,
	}, nil)
	return s, mailer
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestService(t, false)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"missing at", "ana.example.com", "secret1", ErrInvalidEmail},
		{"display name form", "Ana <ana@example.com>", "secret1", ErrInvalidEmail},
		{"short password", "ana@example.com", "12345", ErrWeakPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Register(ctx, tc.email, tc.password)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	u, err := s.Register(ctx, "  Ana@Example.com ", "123456")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.True(t, u.EmailConfirmed)

	_, err = s.Register(ctx, "ana@example.com", "another")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestLoginIssuesBearerToken(t *testing.T) {
	s, _ := newTestService(t, false)
	ctx := context.Background()
	registered, err := s.Register(ctx, "ana@example.com", "segredo")
	require.NoError(t, err)

	_, _, err = s.Login(ctx, "ana@example.com", "errado")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Login(ctx, "bia@example.com", "segredo")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	tok, user, err := s.Login(ctx, "ANA@example.com", "segredo")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.ExpiresAt.After(time.Now()))

	claims, err := s.Authenticate(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, "ana@example.com", claims.Email)
}

func TestConfirmationFlow(t *testing.T) {
	s, mailer := newTestService(t, true)
	ctx := context.Background()

	u, err := s.Register(ctx, "ana@example.com", "segredo")
	require.NoError(t, err)
	assert.False(t, u.EmailConfirmed)

	_, _, err = s.Login(ctx, "ana@example.com", "segredo")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)

	token := mailer.tokenFor(t, "ana@example.com")
	require.NotEmpty(t, token)
	assert.True(t, strings.HasPrefix(mailer.links["ana@example.com"], "https://finvue.test/api/auth/confirm?token="))

	// A confirmation token is not a bearer token.
	_, err = s.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, s.Confirm(ctx, token))
	_, _, err = s.Login(ctx, "ana@example.com", "segredo")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.Confirm(ctx, "garbage"), ErrInvalidToken)
}

func TestRegisterSucceedsWhenMailFails(t *testing.T) {
	s, mailer := newTestService(t, true)
	mailer.err = errors.New("smtp down")

	_, err := s.Register(context.Background(), "ana@example.com", "segredo")
	assert.NoError(t, err)
}

func TestAuthenticateRejectsForeignAndExpiredTokens(t *testing.T) {
	s, _ := newTestService(t, false)

	other := tokenIssuer{secret: []byte("other"), issuer: "finvue", now: time.Now}
	forged, _, err := other.issue("u1", "a@b.c", PurposeAccess, time.Hour)
	require.NoError(t, err)
	_, err = s.Authenticate(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	past := tokenIssuer{secret: []byte("test-secret"), issuer: "finvue", now: func() time.Time { return time.Now().Add(-48 * time.Hour) }}
	expired, _, err := past.issue("u1", "a@b.c", PurposeAccess, time.Hour)
	require.NoError(t, err)
	_, err = s.Authenticate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutRevokesToken(t *testing.T) {
	s, _ := newTestService(t, false)
	ctx := context.Background()
	_, err := s.Register(ctx, "ana@example.com", "segredo")
	require.NoError(t, err)
	tok, _, err := s.Login(ctx, "ana@example.com", "segredo")
	require.NoError(t, err)

	claims, err := s.Authenticate(tok.AccessToken)
	require.NoError(t, err)
	s.Logout(claims)

	_, err = s.Authenticate(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A fresh login is unaffected.
	tok2, _, err := s.Login(ctx, "ana@example.com", "segredo")
	require.NoError(t, err)
	_, err = s.Authenticate(tok2.AccessToken)
	assert.NoError(t, err)
}

func TestLogoutFailsClosedWhenDenylistIsFull(t *testing.T) {
	s := NewService(memory.New(), &fakeMailer{}, Config{
		Secret:             []byte("test-secret"),
		BcryptCost:         bcrypt.MinCost,
		RevocationCapacity: 1,
	}, nil)

	base := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	issueAt := func(offset time.Duration) string {
		t.Helper()
		s.tokens.now = func() time.Time { return base.Add(offset) }
		tok, _, err := s.tokens.issue("u1", "ana@example.com", PurposeAccess, 24*time.Hour)
		require.NoError(t, err)
		return tok
	}
	first, sameAge, second, fresh := issueAt(0), issueAt(0), issueAt(time.Hour), issueAt(2*time.Hour)

	for _, tok := range []string{first, second} {
		claims, err := s.Authenticate(tok)
		require.NoError(t, err)
		s.Logout(claims)
	}

	// first was evicted by second; it must stay rejected.
	for name, tok := range map[string]string{"evicted": first, "same age": sameAge, "listed": second} {
		_, err := s.Authenticate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
	_, err := s.Authenticate(fresh)
	assert.NoError(t, err)
}

func TestProfileUpdates(t *testing.T) {
	s, _ := newTestService(t, false)
	ctx := context.Background()
	u, err := s.Register(ctx, "ana@example.com", "segredo")
	require.NoError(t, err)

	assert.ErrorIs(t, s.UpdateDisplayName(ctx, u.ID, "   "), ErrEmptyDisplayName)
	require.NoError(t, s.UpdateDisplayName(ctx, u.ID, "  Ana Souza "))
	got, err := s.Profile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", got.DisplayName)

	// Mismatch is reported before length.
	assert.ErrorIs(t, s.ChangePassword(ctx, u.ID, "abc", "abd"), ErrPasswordMismatch)
	assert.ErrorIs(t, s.ChangePassword(ctx, u.ID, "abc", "abc"), ErrWeakPassword)
	require.NoError(t, s.ChangePassword(ctx, u.ID, "novasenha", "novasenha"))

	_, _, err = s.Login(ctx, "ana@example.com", "segredo")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = s.Login(ctx, "ana@example.com", "novasenha")
	assert.NoError(t, err)
}

func TestTranslate(t *testing.T) {
	fe := Translate(ErrPasswordMismatch)
	assert.Equal(t, "confirmPassword", fe.Field)
	assert.Equal(t, "As senhas não coincidem.", fe.Message)
	assert.ErrorIs(t, fe, ErrPasswordMismatch)

	assert.Equal(t, "Ocorreu um erro inesperado.", Translate(errors.New("x")).Message)
}
