package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/models"
)

type fakeCsrfStore struct {
	tokens map[string]string // session id -> token
}

func newFakeCsrfStore() *fakeCsrfStore {
	return &fakeCsrfStore{tokens: make(map[string]string)}
}

func (f *fakeCsrfStore) Upsert(_ context.Context, sessionID, token string) error {
	f.tokens[sessionID] = token
	return nil
}

func (f *fakeCsrfStore) GetBySessionID(_ context.Context, sessionID string) (*models.CsrfToken, error) {
	token, ok := f.tokens[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.CsrfToken{SessionID: sessionID, Token: token}, nil
}

func TestCsrfIssueAndValidate(t *testing.T) {
	svc := NewCsrfService(newFakeCsrfStore(), discardLogger())

	token, err := svc.Issue(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Len(t, token, 64) // 32 bytes hex

	valid, err := svc.Validate(context.Background(), "session-1", token)
	require.NoError(t, err)
	assert.True(t, valid)

	// Reusable: the same token validates again until the session ends.
	valid, err = svc.Validate(context.Background(), "session-1", token)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestCsrfValidate_RejectsForeignSessionToken(t *testing.T) {
	svc := NewCsrfService(newFakeCsrfStore(), discardLogger())

	tokenA, err := svc.Issue(context.Background(), "session-a")
	require.NoError(t, err)
	_, err = svc.Issue(context.Background(), "session-b")
	require.NoError(t, err)

	valid, err := svc.Validate(context.Background(), "session-b", tokenA)
	require.NoError(t, err)
	assert.False(t, valid, "a token is bound to exactly one session")
}

func TestCsrfValidate_MissingRowIsInvalidNotError(t *testing.T) {
	svc := NewCsrfService(newFakeCsrfStore(), discardLogger())

	valid, err := svc.Validate(context.Background(), "no-such-session", "whatever")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestCsrfValidate_EmptyToken(t *testing.T) {
	svc := NewCsrfService(newFakeCsrfStore(), discardLogger())

	valid, err := svc.Validate(context.Background(), "session-1", "")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestCsrfIssue_RotatesExistingToken(t *testing.T) {
	store := newFakeCsrfStore()
	svc := NewCsrfService(store, discardLogger())

	first, err := svc.Issue(context.Background(), "session-1")
	require.NoError(t, err)
	second, err := svc.Issue(context.Background(), "session-1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	valid, err := svc.Validate(context.Background(), "session-1", first)
	require.NoError(t, err)
	assert.False(t, valid, "rotation invalidates the previous token")
}
