package mutation_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/directory/directorytest"
	"github.com/devplatform/directory-sync/internal/logging"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/devplatform/directory-sync/internal/mutation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string]map[string]string
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, to string, vars map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if n.sent == nil {
		n.sent = make(map[string]map[string]string)
	}
	n.sent[to] = vars
	return nil
}

func newExecutor(t *testing.T, srv *directorytest.Server, opts mutation.Options, notifier *recordingNotifier) *mutation.Executor {
	t.Helper()
	client := directory.NewClient(directory.Options{
		BaseURL:     srv.DirectoryURL(),
		Token:       directorytest.Token,
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, logging.Discard())
	cache := directory.NewCache(client, time.Hour, time.Hour, logging.Discard())
	if notifier == nil {
		return mutation.NewExecutor(client, cache, nil, opts, logging.Discard())
	}
	return mutation.NewExecutor(client, cache, notifier, opts, logging.Discard())
}

func boolPtr(b bool) *bool { return &b }

func newCandidate(line int, login string) *models.CandidateUser {
	return &models.CandidateUser{
		Line:                   line,
		Login:                  login,
		Name:                   models.Name{First: "Иван", Last: "Иванов"},
		Password:               "Secret123!!",
		PasswordChangeRequired: boolPtr(true),
		Language:               "ru",
		Department:             models.DepartmentRef{ID: models.RootDepartmentID},
	}
}

func kinds(report *models.BatchReport) []models.OutcomeKind {
	var out []models.OutcomeKind
	for _, o := range report.Outcomes {
		out = append(out, o.Kind)
	}
	return out
}

func TestCreateDryRunIssuesNoCalls(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	exec := newExecutor(t, srv, mutation.Options{DryRun: true}, nil)

	result := exec.Create(context.Background(), []*models.CandidateUser{newCandidate(2, "ivanov"), newCandidate(3, "petrov")})
	assert.Equal(t, []models.OutcomeKind{models.OutcomeSkipped, models.OutcomeSkipped}, kinds(result.Report))
	assert.Equal(t, mutation.ReasonDryRun, result.Report.Outcomes[0].Reason)
	assert.Empty(t, srv.Requests())
	assert.True(t, result.Report.DryRun)
	assert.Empty(t, result.Pending)
}

func TestCreateDryRunKeepsDepartmentPaths(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	exec := newExecutor(t, srv, mutation.Options{DryRun: true}, nil)

	c := newCandidate(2, "ivanov")
	c.Department = models.DepartmentRef{Path: "Acme|Eng"}
	result := exec.Create(context.Background(), []*models.CandidateUser{c})

	require.Len(t, result.Pending, 1)
	assert.Equal(t, mutation.DryRunUserID, result.Pending[0].UserID)
	assert.Equal(t, "Acme|Eng", result.Pending[0].Path)
	assert.Equal(t, models.RootDepartmentID, result.Pending[0].Current)
	assert.Empty(t, srv.Requests())
}

func TestCreateBuildsPayload(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	notifier := &recordingNotifier{}
	exec := newExecutor(t, srv, mutation.Options{}, notifier)

	c := newCandidate(2, "ivanov")
	c.WorkPhone = "+7 (999) 123-45-67"
	c.MobilePhone = "14155550100 ext. 42"
	c.PersonalEmail = "ivan@example.org"
	c.Department = models.DepartmentRef{Path: "Acme|Eng"}
	c.Aliases = []string{"ivan", "i.ivanov"}
	c.IsAdmin = boolPtr(true)

	result := exec.Create(context.Background(), []*models.CandidateUser{c})
	require.Equal(t, []models.OutcomeKind{models.OutcomeCreated}, kinds(result.Report))
	out := result.Report.Outcomes[0]
	assert.Empty(t, out.Warnings)

	user, ok := srv.User(out.UserID)
	require.True(t, ok)
	assert.Equal(t, "ivanov", user.Nickname)
	assert.Equal(t, models.RootDepartmentID, user.DepartmentID)
	assert.Equal(t, `{"email":"ivan@example.org"}`, user.About)
	assert.True(t, user.IsAdmin)
	assert.Equal(t, []string{"ivan", "i.ivanov"}, user.Aliases)
	assert.Equal(t, "+7 (999) 123-45-67", user.PhoneContact(mutation.LabelWork))
	assert.Equal(t, "14155550100 ext. 42", user.PhoneContact(mutation.LabelMobile))

	require.Len(t, result.Pending, 1)
	assert.Equal(t, "Acme|Eng", result.Pending[0].Path)
	assert.Equal(t, out.UserID, result.Pending[0].UserID)

	require.Contains(t, notifier.sent, "ivan@example.org")
	assert.Equal(t, "Secret123!!", notifier.sent["ivan@example.org"]["password"])
	assert.Equal(t, "Acme|Eng", notifier.sent["ivan@example.org"]["department"])
}

func TestCreateAliasFailureIsIsolated(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	srv.Fail(http.MethodPost, "/users/1130000000000100/aliases", http.StatusBadRequest, 1)
	exec := newExecutor(t, srv, mutation.Options{}, &recordingNotifier{err: errors.New("smtp down")})

	c := newCandidate(2, "ivanov")
	c.Aliases = []string{"taken", "ivan"}
	c.PersonalEmail = "ivan@example.org"

	result := exec.Create(context.Background(), []*models.CandidateUser{c})
	out := result.Report.Outcomes[0]
	assert.Equal(t, models.OutcomeCreated, out.Kind)
	require.Len(t, out.Warnings, 2)
	assert.Contains(t, out.Warnings[0], "alias taken")
	assert.Contains(t, out.Warnings[1], "smtp down")

	user, _ := srv.User(out.UserID)
	assert.Equal(t, []string{"ivan"}, user.Aliases)
	assert.NoError(t, result.Report.Err())
}

func TestCreatePersistentServerErrorFailsOnlyThatRow(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	srv.FailAfter(http.MethodPost, "/users", http.StatusInternalServerError, 1, 3)
	exec := newExecutor(t, srv, mutation.Options{}, nil)

	result := exec.Create(context.Background(), []*models.CandidateUser{
		newCandidate(2, "ivanov"),
		newCandidate(3, "petrov"),
		newCandidate(4, "sidorov"),
	})
	assert.Equal(t, []models.OutcomeKind{models.OutcomeCreated, models.OutcomeFailed, models.OutcomeCreated}, kinds(result.Report))
	assert.Contains(t, result.Report.Outcomes[1].Reason, "3 attempts")

	var partial *models.PartialBatchFailure
	require.True(t, errors.As(result.Report.Err(), &partial))
	assert.Equal(t, 3, partial.Total)
	assert.Len(t, partial.Failed, 1)

	_, ok := srv.UserByNickname("sidorov")
	assert.True(t, ok)
}

func TestCreateKeepsOrderWithWorkers(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	exec := newExecutor(t, srv, mutation.Options{Workers: 4}, nil)

	var batch []*models.CandidateUser
	for i, login := range []string{"a1", "a2", "a3", "a4", "a5", "a6"} {
		batch = append(batch, newCandidate(i+2, login))
	}
	result := exec.Create(context.Background(), batch)
	require.Len(t, result.Report.Outcomes, 6)
	for i, o := range result.Report.Outcomes {
		assert.Equal(t, i+2, o.Line)
		assert.Equal(t, models.OutcomeCreated, o.Kind)
	}
}

func TestCreateCancelledContextSkipsRows(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	exec := newExecutor(t, srv, mutation.Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := exec.Create(ctx, []*models.CandidateUser{newCandidate(2, "ivanov")})
	assert.Equal(t, mutation.ReasonCancelled, result.Report.Outcomes[0].Reason)
	assert.Equal(t, 0, srv.MutationCount())
}

func seedUser(srv *directorytest.Server, enabled bool) *models.DirectoryUser {
	return srv.AddUser(models.DirectoryUser{
		Nickname:  "ivanov",
		Name:      models.Name{First: "Иван", Last: "Иванов"},
		Position:  "Engineer",
		Language:  "ru",
		IsEnabled: enabled,
		Aliases:   []string{"ivan"},
		Contacts: []models.Contact{
			{Type: "email", Value: "ivanov@example.org", Synthetic: true},
			{Type: "phone", Value: "+7 (999) 123-45-67", Label: mutation.LabelWork},
		},
	})
}

func updateRow(login string) *models.CandidateUser {
	return &models.CandidateUser{Line: 2, Login: login}
}

func TestUpdateSendsMinimalDiff(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	user := seedUser(srv, true)
	exec := newExecutor(t, srv, mutation.Options{}, nil)

	c := updateRow("ivan")
	c.Position = "Lead"
	c.Name.Last = "Иванов"
	c.WorkPhone = "+7 (999) 123-45-67"
	c.Aliases = []string{"ivan", "boss"}

	result, err := exec.Update(context.Background(), []*models.CandidateUser{c})
	require.NoError(t, err)
	assert.Equal(t, []models.OutcomeKind{models.OutcomeUpdated}, kinds(result.Report))

	var patches []map[string]interface{}
	for _, r := range srv.Requests() {
		if r.Method == http.MethodPatch {
			patches = append(patches, r.Body)
		}
	}
	require.Len(t, patches, 1)
	assert.Equal(t, map[string]interface{}{"position": "Lead"}, patches[0])

	got, _ := srv.User(user.ID)
	assert.Equal(t, "Lead", got.Position)
	assert.Equal(t, []string{"ivan", "boss"}, got.Aliases)
}

func TestUpdateIdenticalRowIsSkipped(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	seedUser(srv, true)
	exec := newExecutor(t, srv, mutation.Options{}, nil)

	c := updateRow("ivanov")
	c.Position = "Engineer"
	c.Language = "RU"
	c.Department = models.DepartmentRef{ID: models.RootDepartmentID}

	result, err := exec.Update(context.Background(), []*models.CandidateUser{c})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSkipped, result.Report.Outcomes[0].Kind)
	assert.Equal(t, mutation.ReasonNoChanges, result.Report.Outcomes[0].Reason)
	assert.Equal(t, 0, srv.MutationCount())
}

func TestUpdateClearsAndRebuildsContacts(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	user := seedUser(srv, true)
	exec := newExecutor(t, srv, mutation.Options{}, nil)

	c := updateRow("ivanov")
	c.WorkPhone = models.ClearedValue
	c.MobilePhone = "+7 (900) 000-00-01"
	c.Position = models.ClearedValue

	_, err := exec.Update(context.Background(), []*models.CandidateUser{c})
	require.NoError(t, err)

	got, _ := srv.User(user.ID)
	assert.Equal(t, "", got.Position)
	assert.Equal(t, "", got.PhoneContact(mutation.LabelWork))
	assert.Equal(t, "+7 (900) 000-00-01", got.PhoneContact(mutation.LabelMobile))
	for _, ct := range got.Contacts {
		assert.False(t, ct.Synthetic)
	}
}

func TestUpdateUnknownLoginFails(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	exec := newExecutor(t, srv, mutation.Options{}, nil)

	result, err := exec.Update(context.Background(), []*models.CandidateUser{updateRow("ghost")})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, result.Report.Outcomes[0].Kind)
	assert.Equal(t, mutation.ReasonNotFound, result.Report.Outcomes[0].Reason)
}

func TestUpdateLanguageOfDisabledUserIsDeferred(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	user := seedUser(srv, false)
	exec := newExecutor(t, srv, mutation.Options{}, nil)

	c := updateRow("ivanov")
	c.Language = "en"

	result, err := exec.Update(context.Background(), []*models.CandidateUser{c})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUpdated, result.Report.Outcomes[0].Kind)
	assert.Equal(t, 3, srv.CountRequests(http.MethodPatch, "/users/"))

	got, _ := srv.User(user.ID)
	assert.Equal(t, "en", got.Language)
	assert.False(t, got.IsEnabled)
}

func TestUpdateFailedReDisableIsHardFailure(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	user := seedUser(srv, false)
	srv.FailAfter(http.MethodPatch, "/users/"+user.ID, http.StatusInternalServerError, 2, -1)
	exec := newExecutor(t, srv, mutation.Options{}, nil)

	c := updateRow("ivanov")
	c.Language = "en"

	result, err := exec.Update(context.Background(), []*models.CandidateUser{c})
	require.NoError(t, err)
	out := result.Report.Outcomes[0]
	assert.Equal(t, models.OutcomeFailed, out.Kind)
	assert.Contains(t, out.Reason, "ivanov left enabled")

	got, _ := srv.User(user.ID)
	assert.True(t, got.IsEnabled)
}

func TestUpdateLanguageFallbacks(t *testing.T) {
	cases := []struct {
		fallback mutation.LanguageFallback
		kind     models.OutcomeKind
		patches  int
		position string
	}{
		{fallback: mutation.FallbackFail, kind: models.OutcomeFailed, patches: 1, position: "Engineer"},
		{fallback: mutation.FallbackRetry, kind: models.OutcomeFailed, patches: 2, position: "Engineer"},
		{fallback: mutation.FallbackSkip, kind: models.OutcomeUpdated, patches: 2, position: "Lead"},
	}
	for _, tc := range cases {
		t.Run(string(tc.fallback), func(t *testing.T) {
			srv := directorytest.NewServer()
			defer srv.Close()
			srv.RejectLanguage = true
			user := seedUser(srv, true)
			exec := newExecutor(t, srv, mutation.Options{LanguageFallback: tc.fallback}, nil)

			c := updateRow("ivanov")
			c.Language = "en"
			c.Position = "Lead"

			result, err := exec.Update(context.Background(), []*models.CandidateUser{c})
			require.NoError(t, err)
			out := result.Report.Outcomes[0]
			assert.Equal(t, tc.kind, out.Kind)
			assert.Equal(t, tc.patches, srv.CountRequests(http.MethodPatch, "/users/"))

			got, _ := srv.User(user.ID)
			assert.Equal(t, tc.position, got.Position)
			assert.Equal(t, "ru", got.Language)
			if tc.fallback == mutation.FallbackSkip {
				require.Len(t, out.Warnings, 1)
				assert.Contains(t, out.Warnings[0], "language")
			}
		})
	}
}

func TestUpdateResolvesExistingPathAndDefersMissingOne(t *testing.T) {
	srv := directorytest.NewServer()
	defer srv.Close()
	acme := srv.AddDepartment("Acme", models.RootDepartmentID)
	user := seedUser(srv, true)
	srv.AddUser(models.DirectoryUser{Nickname: "petrov", IsEnabled: true})
	exec := newExecutor(t, srv, mutation.Options{}, nil)

	moved := updateRow("ivanov")
	moved.Department = models.DepartmentRef{Path: "Acme"}
	deferred := updateRow("petrov")
	deferred.Line = 3
	deferred.Department = models.DepartmentRef{Path: "Acme|New"}

	result, err := exec.Update(context.Background(), []*models.CandidateUser{moved, deferred})
	require.NoError(t, err)
	got, _ := srv.User(user.ID)
	assert.Equal(t, acme, got.DepartmentID)

	require.Len(t, result.Pending, 1)
	assert.Equal(t, "petrov", result.Pending[0].Login)
	assert.Equal(t, "Acme|New", result.Pending[0].Path)
	assert.Equal(t, models.OutcomeSkipped, result.Report.Outcomes[1].Kind)
}
