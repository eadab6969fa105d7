package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/logging"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	users  []models.DirectoryUser
	forced []bool
	err    error
}

func (f *fakeSource) Users(ctx context.Context, force bool) (*directory.UserSnapshot, time.Time, error) {
	f.forced = append(f.forced, force)
	if f.err != nil {
		return nil, time.Time{}, f.err
	}
	now := time.Now()
	snap, err := directory.NewUserSnapshot(f.users, now)
	return snap, now, err
}

func existing() []models.DirectoryUser {
	return []models.DirectoryUser{
		{
			ID:       "1130000000000101",
			Nickname: "ivanov",
			Name:     models.Name{First: "Иван", Last: "Иванов"},
			Aliases:  []string{"ivan"},
		},
		{
			ID:       "1130000000000102",
			Nickname: "petrov",
			Name:     models.Name{First: "Пётр", Last: "Петров"},
			Contacts: []models.Contact{{Type: "email", Value: "p.petrov@example.org"}},
		},
	}
}

func candidate(line int, login string, aliases ...string) *models.CandidateUser {
	return &models.CandidateUser{Line: line, Login: login, Aliases: aliases}
}

func TestCreateBatchConflictIsSymmetric(t *testing.T) {
	for _, order := range [][]int{{0, 1, 2}, {2, 1, 0}} {
		rows := []*models.CandidateUser{
			candidate(2, "sidorov"),
			candidate(3, "kozlov"),
			candidate(4, "sidorov"),
		}
		batch := []*models.CandidateUser{rows[order[0]], rows[order[1]], rows[order[2]]}

		d := NewDetector(&fakeSource{}, logging.Discard())
		ok, conflicts, err := d.CheckUniqueness(context.Background(), batch, models.ModeCreate)
		require.NoError(t, err)
		assert.False(t, ok)
		require.Len(t, conflicts, 2)
		assert.Equal(t, 2, conflicts[0].Line)
		assert.Equal(t, 4, conflicts[1].Line)
		assert.Equal(t, FieldLogin, conflicts[0].Field)
		assert.Contains(t, conflicts[0].With, "line 4")
		assert.Contains(t, conflicts[1].With, "line 2")
	}
}

func TestCreateLoginCollidesWithAnotherRowsAlias(t *testing.T) {
	d := NewDetector(&fakeSource{}, logging.Discard())
	ok, conflicts, err := d.CheckUniqueness(context.Background(), []*models.CandidateUser{
		candidate(2, "sidorov", "sid"),
		candidate(3, "sid"),
	}, models.ModeCreate)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, conflicts, 2)
	assert.Equal(t, FieldAlias, conflicts[0].Field)
	assert.Equal(t, FieldLogin, conflicts[1].Field)
}

func TestCreateAgainstForcedSnapshot(t *testing.T) {
	source := &fakeSource{users: existing()}
	d := NewDetector(source, logging.Discard())

	ok, conflicts, err := d.CheckUniqueness(context.Background(), []*models.CandidateUser{
		candidate(2, "ivan"),
		candidate(3, "p.petrov"),
		candidate(4, "sidorov", "ivanov"),
		candidate(5, "kozlov"),
	}, models.ModeCreate)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []bool{true}, source.forced)

	require.Len(t, conflicts, 3)
	assert.Equal(t, 2, conflicts[0].Line)
	assert.Contains(t, conflicts[0].With, "ivanov")
	assert.Contains(t, conflicts[0].With, "alias")
	assert.Equal(t, 3, conflicts[1].Line)
	assert.Contains(t, conflicts[1].With, "email")
	assert.Equal(t, 4, conflicts[2].Line)
	assert.Equal(t, FieldAlias, conflicts[2].Field)

	var conflictErr *ConflictError
	require.True(t, errors.As(Err(conflicts), &conflictErr))
	assert.Len(t, conflictErr.Conflicts, 3)
	assert.Nil(t, Err(nil))
}

func TestCreateCleanBatch(t *testing.T) {
	d := NewDetector(&fakeSource{users: existing()}, logging.Discard())
	ok, conflicts, err := d.CheckUniqueness(context.Background(), []*models.CandidateUser{
		candidate(2, "sidorov", "sid"),
		candidate(3, "kozlov"),
	}, models.ModeCreate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, conflicts)
}

func TestUpdateExemptsOwnAliases(t *testing.T) {
	d := NewDetector(&fakeSource{users: existing()}, logging.Discard())
	ok, conflicts, err := d.CheckUniqueness(context.Background(), []*models.CandidateUser{
		candidate(2, "ivanov", "ivan", "i.ivanov"),
	}, models.ModeUpdate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, conflicts)
}

func TestUpdateNewAliasCollisions(t *testing.T) {
	d := NewDetector(&fakeSource{users: existing()}, logging.Discard())
	ok, conflicts, err := d.CheckUniqueness(context.Background(), []*models.CandidateUser{
		candidate(2, "ivanov", "petrov"),
		candidate(3, "petrov", "ivan", "boss"),
		candidate(4, "sidorov", "boss"),
	}, models.ModeUpdate)
	require.NoError(t, err)
	assert.False(t, ok)

	var got []string
	for _, c := range conflicts {
		got = append(got, c.Login+"/"+c.Value)
	}
	assert.ElementsMatch(t, []string{
		"ivanov/petrov",
		"petrov/ivan",
		"petrov/boss",
		"sidorov/boss",
	}, got)
}

func TestUpdateSameIdentityTwice(t *testing.T) {
	d := NewDetector(&fakeSource{users: existing()}, logging.Discard())
	ok, conflicts, err := d.CheckUniqueness(context.Background(), []*models.CandidateUser{
		candidate(2, "ivanov"),
		candidate(3, "ivan"),
	}, models.ModeUpdate)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, conflicts, 2)
	assert.Equal(t, FieldLogin, conflicts[0].Field)
}

func TestSnapshotFailure(t *testing.T) {
	d := NewDetector(&fakeSource{err: errors.New("boom")}, logging.Discard())
	ok, _, err := d.CheckUniqueness(context.Background(), nil, models.ModeCreate)
	assert.False(t, ok)
	assert.Error(t, err)
}
