package mutation

import (
	"testing"

	"github.com/devplatform/directory-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCreateRequestDepartment(t *testing.T) {
	c := &models.CandidateUser{Login: "ivanov", Department: models.DepartmentRef{ID: 7}}
	assert.Equal(t, int64(7), BuildCreateRequest(c).DepartmentID)

	c.Department = models.DepartmentRef{Path: "Acme|Eng"}
	assert.Equal(t, models.RootDepartmentID, BuildCreateRequest(c).DepartmentID)

	c.Department = models.DepartmentRef{}
	assert.Equal(t, models.RootDepartmentID, BuildCreateRequest(c).DepartmentID)
}

func TestDiffReadsForeignAboutFormat(t *testing.T) {
	current := &models.DirectoryUser{About: `{"email": "ivan@example.org"}`, IsEnabled: true}

	patch := Diff(current, &models.CandidateUser{PersonalEmail: "IVAN@example.org"}, 0)
	assert.True(t, patch.IsEmpty())

	patch = Diff(current, &models.CandidateUser{PersonalEmail: models.ClearedValue}, 0)
	require.NotNil(t, patch.About)
	assert.Equal(t, "", *patch.About)

	patch = Diff(&models.DirectoryUser{About: "free text"}, &models.CandidateUser{PersonalEmail: "a@example.org"}, 0)
	require.NotNil(t, patch.About)
	assert.Equal(t, `{"email":"a@example.org"}`, *patch.About)
}

func TestDiffNameAndFlags(t *testing.T) {
	current := &models.DirectoryUser{
		Name:      models.Name{First: "Иван", Last: "Иванов", Middle: "Петрович"},
		IsEnabled: true,
	}
	enabled, admin, required := true, true, false
	patch := Diff(current, &models.CandidateUser{
		Name:                   models.Name{Middle: models.ClearedValue},
		IsEnabled:              &enabled,
		IsAdmin:                &admin,
		PasswordChangeRequired: &required,
	}, 0)

	require.NotNil(t, patch.Name)
	assert.Equal(t, models.Name{First: "Иван", Last: "Иванов"}, *patch.Name)
	assert.Nil(t, patch.IsEnabled)
	require.NotNil(t, patch.IsAdmin)
	assert.True(t, *patch.IsAdmin)
	assert.Nil(t, patch.PasswordChangeRequired)
	assert.Nil(t, patch.Password)

	patch = Diff(current, &models.CandidateUser{Password: "Secret123!!", PasswordChangeRequired: &required}, 0)
	require.NotNil(t, patch.PasswordChangeRequired)
	assert.Equal(t, "name", patchFields(Diff(current, &models.CandidateUser{Name: models.Name{First: "Пётр"}}, 0)))
}

func TestNewAliases(t *testing.T) {
	current := &models.DirectoryUser{Nickname: "ivanov", Aliases: []string{"Ivan"}}
	assert.Equal(t, []string{"boss"}, NewAliases(current, []string{"ivan", "IVANOV", "boss"}))
}
