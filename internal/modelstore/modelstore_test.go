package modelstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kg90-eg/alloc-sentinel/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:modelstore_%s?mode=memory&cache=shared", t.Name()),
		Profile: database.ProfileStandard,
		Name:    "modelstore",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := New(db, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func testArtifact(versionID string) *Artifact {
	return &Artifact{
		VersionID:   versionID,
		Weights:     []byte{1, 2, 3},
		FeatureList: []string{"rsi14", "macd", "momentum_30"},
		SampleCount: 500,
		Metrics:     Metrics{F1: 0.72, Accuracy: 0.75, Precision: 0.70, Recall: 0.74, ROCAUC: 0.80},
		TrainedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCurrent_NoArtifactReturnsErrNoCurrentModel(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Current()
	require.ErrorIs(t, err, ErrNoCurrentModel)
}

func TestBackup_NoBackupReturnsErrNoBackup(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Backup()
	require.ErrorIs(t, err, ErrNoBackup)
}

func TestPromote_ThenCurrentRoundTrips(t *testing.T) {
	s := newTestStore(t)
	a := testArtifact("")

	require.NoError(t, s.Promote(a))
	require.NotEmpty(t, a.VersionID, "Promote assigns a version id when none is given")

	got, err := s.Current()
	require.NoError(t, err)
	require.Equal(t, a.VersionID, got.VersionID)
	require.Equal(t, a.FeatureList, got.FeatureList)
	require.Equal(t, a.SampleCount, got.SampleCount)
	require.InDelta(t, a.Metrics.F1, got.Metrics.F1, 1e-9)
}

func TestPromote_SecondPromoteMovesFirstToBackup(t *testing.T) {
	s := newTestStore(t)
	first := testArtifact("v1")
	second := testArtifact("v2")

	require.NoError(t, s.Promote(first))
	require.NoError(t, s.Promote(second))

	current, err := s.Current()
	require.NoError(t, err)
	require.Equal(t, "v2", current.VersionID)

	backup, err := s.Backup()
	require.NoError(t, err)
	require.Equal(t, "v1", backup.VersionID)
}

func TestRollback_SwapsCurrentAndBackup(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Promote(testArtifact("v1")))
	require.NoError(t, s.Promote(testArtifact("v2")))

	ok, err := s.Rollback()
	require.NoError(t, err)
	require.True(t, ok)

	current, err := s.Current()
	require.NoError(t, err)
	require.Equal(t, "v1", current.VersionID)

	backup, err := s.Backup()
	require.NoError(t, err)
	require.Equal(t, "v2", backup.VersionID)
}

func TestRollback_NoBackupReturnsFalseWithoutError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Promote(testArtifact("v1")))

	ok, err := s.Rollback()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoad_UnknownVersionErrors(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("does-not-exist")
	require.Error(t, err)
}
