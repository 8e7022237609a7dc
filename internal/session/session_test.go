package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 5, 7, 0, time.UTC)

func TestCreateStandalone(t *testing.T) {
	root := t.TempDir()
	s, err := PathManager{Root: root}.Create("P7", "VisInvisStability", t0)
	require.NoError(t, err)
	assert.True(t, s.Persist)
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, filepath.Join(root, "VisInvisStability", "P7", "2026-03-01-09-05-07"), s.Dir)

	info, err := os.Stat(s.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(s.Dir, "HeadPosition.txt"), s.StreamPath("HeadPosition"))
}

func TestCreateDefaultsParticipant(t *testing.T) {
	s, err := PathManager{Root: t.TempDir()}.Create("", "HeadStability", t0)
	require.NoError(t, err)
	assert.Equal(t, DefaultParticipant, s.Participant)
	assert.Contains(t, s.Dir, string(filepath.Separator)+DefaultParticipant+string(filepath.Separator))
}

func TestCreateBattery(t *testing.T) {
	root := t.TempDir()
	m := NewBatteryPaths(root, "P1", t0)
	a, err := m.Create("P1", "HeadStability", t0)
	require.NoError(t, err)
	b, err := m.Create("P1", "TestofSkew", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "P1_2026-03-01_09-05-07", "HeadStability"), a.Dir)
	assert.Equal(t, filepath.Dir(a.Dir), filepath.Dir(b.Dir))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCreateFailureDisablesPersistence(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	s, err := PathManager{Root: blocker}.Create("P1", "TestofSkew", t0)
	require.ErrorIs(t, err, ErrNoPersistence)
	require.NotNil(t, s)
	assert.False(t, s.Persist)
	assert.Equal(t, "", s.StreamPath("HeadPosition"))

	s, err = PathManager{}.Create("P1", "TestofSkew", t0)
	assert.ErrorIs(t, err, ErrNoPersistence)
	assert.False(t, s.Persist)
}

func TestTrialsKeepOrder(t *testing.T) {
	s := &Session{}
	for i := 1; i <= 5; i++ {
		s.AddTrial(Trial{Index: i, Kind: KindPractice, Outcome: Success})
	}
	got := s.Trials()
	require.Len(t, got, 5)
	for i, tr := range got {
		assert.Equal(t, i+1, tr.Index)
	}
	got[0].Index = 99
	assert.Equal(t, 1, s.Trials()[0].Index)
}
