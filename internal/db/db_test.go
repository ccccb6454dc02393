package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/config"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/profile"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(config.DriverSQLite, filepath.Join(t.TempDir(), "signup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, RunMigrations(database.Conn))

	return database
}

func sampleDocument() profile.Document {
	return profile.Document{
		UID:          "uid-1",
		Provider:     "phone",
		Phone:        "+919876543210",
		Name:         "Asha Rao",
		Email:        pointer.To("asha@example.com"),
		Age:          25,
		Sex:          profile.SexFemale,
		Weight:       70,
		Lifestyle:    profile.LifestyleStructuredTraining,
		Diet:         profile.DietVeg,
		ProteinRange: profile.ProteinRange{Min: 56, Max: 140},
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	database := openTestDB(t)

	assert.NoError(t, RunMigrations(database.Conn))
}

func TestProfileUpsertIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepository(openTestDB(t).Conn)

	doc := sampleDocument()
	require.NoError(t, repo.UpsertProfile(ctx, doc.UID, doc))

	first, err := repo.GetByUID(ctx, doc.UID)
	require.NoError(t, err)
	require.NotNil(t, first)

	doc.Weight = 80
	doc.ProteinRange = profile.ProteinRange{Min: 64, Max: 160}
	require.NoError(t, repo.UpsertProfile(ctx, doc.UID, doc))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	second, err := repo.GetByUID(ctx, doc.UID)
	require.NoError(t, err)
	require.NotNil(t, second)

	got := second.Document()
	assert.Equal(t, 80.0, got.Weight)
	assert.Equal(t, profile.ProteinRange{Min: 64, Max: 160}, got.ProteinRange)
	assert.Equal(t, "asha@example.com", pointer.Get(got.Email))
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.False(t, second.UpdatedAt.IsZero())
}

func TestProfileGetMissing(t *testing.T) {
	repo := NewProfileRepository(openTestDB(t).Conn)

	p, err := repo.GetByUID(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestChallengeLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepository(openTestDB(t).Conn)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	c := &Challenge{
		ID:          "c-1",
		PhoneNumber: "+919876543210",
		CodeHash:    "hash",
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.GetByID(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ChallengePending, got.Status)
	assert.True(t, got.ExpiresAt.Equal(now.Add(5*time.Minute)))

	attempts, err := repo.IncrementAttempts(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	attempts, err = repo.IncrementAttempts(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	require.NoError(t, repo.Close(ctx, "c-1", ChallengeConsumed))
	// a final status is never overwritten
	require.NoError(t, repo.Close(ctx, "c-1", ChallengeInvalidated))

	got, err = repo.GetByID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, ChallengeConsumed, got.Status)

	_, err = repo.IncrementAttempts(ctx, "c-1")
	assert.ErrorIs(t, err, ErrChallengeNotPending)

	missing, err := repo.GetByID(ctx, "c-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChallengeInvalidatePhoneAndCount(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepository(openTestDB(t).Conn)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		created := now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, &Challenge{
			ID:          id,
			PhoneNumber: "+919876543210",
			CodeHash:    "hash",
			CreatedAt:   created,
			ExpiresAt:   created.Add(5 * time.Minute),
		}))
	}

	count, err := repo.CountSince(ctx, "+919876543210", now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, repo.InvalidatePhone(ctx, "+919876543210"))
	for _, id := range []string{"a", "b", "c"} {
		c, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ChallengeInvalidated, c.Status)
	}

	deleted, err := repo.DeleteExpired(ctx, now.Add(6*time.Minute+30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestIdentityUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository(openTestDB(t).Conn)
	first := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, &Identity{
		UID:            "uid-1",
		Provider:       "phone",
		Subject:        "+919876543210",
		PhoneNumber:    pointer.To("+919876543210"),
		LastVerifiedAt: first,
	}))
	require.NoError(t, repo.Upsert(ctx, &Identity{
		UID:            "uid-1",
		Provider:       "phone",
		Subject:        "+919876543210",
		DisplayName:    pointer.To("Asha"),
		LastVerifiedAt: first.Add(time.Hour),
	}))

	got, err := repo.GetByUID(ctx, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CreatedAt.Equal(first))
	assert.True(t, got.LastVerifiedAt.Equal(first.Add(time.Hour)))
	assert.Equal(t, "+919876543210", pointer.Get(got.PhoneNumber))
	assert.Equal(t, "Asha", pointer.Get(got.DisplayName))
}
