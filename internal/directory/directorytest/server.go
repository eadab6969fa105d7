// Package directorytest provides an in-memory directory API for tests.
package directorytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/devplatform/directory-sync/internal/models"
)

// OrgID is the organization served by the fake
const OrgID = "42"

// Token is the only credential the fake accepts
const Token = "test-token"

// Request is a recorded API call
type Request struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

type failure struct {
	method string
	prefix string
	status int
	header map[string]string
	times  int // -1 for forever
	skip   int // matching calls let through before failing
}

// Server is a fake directory API backed by httptest
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	users       map[string]*models.DirectoryUser
	departments map[int64]*models.Department
	nextUserID  int64
	nextDepID   int64
	requests    []Request
	failures    []*failure
	perPage     int
	scopes      []string
	// RejectLanguage makes language patches of enabled users fail with 400
	RejectLanguage bool
}

// NewServer starts a fake directory with only the root department
func NewServer() *Server {
	s := &Server{
		users:       make(map[string]*models.DirectoryUser),
		departments: make(map[int64]*models.Department),
		nextUserID:  1130000000000100,
		nextDepID:   100,
		perPage:     0,
		scopes: []string{
			"directory:read_users", "directory:write_users",
			"directory:read_departments", "directory:write_departments",
		},
	}
	s.departments[models.RootDepartmentID] = &models.Department{ID: models.RootDepartmentID, Name: "All"}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// DirectoryURL is the organization scoped API root
func (s *Server) DirectoryURL() string {
	return s.URL + "/directory/v1/org/" + OrgID
}

// WhoAmIURL is the token introspection endpoint
func (s *Server) WhoAmIURL() string {
	return s.URL + "/whoami"
}

// SetPageSize overrides the page size the fake uses regardless of perPage
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perPage = n
}

// SetScopes replaces the scopes reported for the token
func (s *Server) SetScopes(scopes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = scopes
}

// AddUser seeds an identity and returns it
func (s *Server) AddUser(u models.DirectoryUser) *models.DirectoryUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = strconv.FormatInt(s.nextUserID, 10)
		s.nextUserID++
	}
	if u.DepartmentID == 0 {
		u.DepartmentID = models.RootDepartmentID
	}
	copied := u
	s.users[u.ID] = &copied
	return &copied
}

// AddDepartment seeds a department and returns its id
func (s *Server) AddDepartment(name string, parentID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addDepartmentLocked(name, parentID)
}

func (s *Server) addDepartmentLocked(name string, parentID int64) int64 {
	id := s.nextDepID
	s.nextDepID++
	s.departments[id] = &models.Department{ID: id, Name: name, ParentID: parentID}
	return id
}

// User returns a copy of an identity
func (s *Server) User(id string) (models.DirectoryUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.DirectoryUser{}, false
	}
	return *u, true
}

// UserByNickname returns a copy of an identity by nickname
func (s *Server) UserByNickname(nickname string) (models.DirectoryUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Nickname == nickname {
			return *u, true
		}
	}
	return models.DirectoryUser{}, false
}

// Departments returns a copy of all departments
func (s *Server) Departments() []models.Department {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Department, 0, len(s.departments))
	for _, d := range s.departments {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Requests returns the recorded calls
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests counts recorded calls by method and path prefix
func (s *Server) CountRequests(method, prefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

// MutationCount counts every non-GET call
func (s *Server) MutationCount() int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method != http.MethodGet {
			n++
		}
	}
	return n
}

// Fail makes the next `times` calls matching method and path prefix answer status.
// A negative times fails forever.
func (s *Server) Fail(method, prefix string, status, times int) {
	s.FailWithHeader(method, prefix, status, times, nil)
}

// FailWithHeader is Fail with extra response headers such as Retry-After
func (s *Server) FailWithHeader(method, prefix string, status, times int, header map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, prefix: prefix, status: status, header: header, times: times})
}

// FailAfter lets `skip` matching calls through, then behaves like Fail
func (s *Server) FailAfter(method, prefix string, status, skip, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, prefix: prefix, status: status, times: times, skip: skip})
}

func (s *Server) injectedFailure(method, path string) *failure {
	for _, f := range s.failures {
		if f.times == 0 || f.method != method || !strings.HasPrefix(path, f.prefix) {
			continue
		}
		if f.skip > 0 {
			f.skip--
			continue
		}
		if f.times > 0 {
			f.times--
		}
		return f
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	path := strings.TrimPrefix(r.URL.Path, "/directory/v1/org/"+OrgID)
	s.requests = append(s.requests, Request{Method: r.Method, Path: path, Body: body})

	w.Header().Set("X-Request-Id", fmt.Sprintf("req-%d", len(s.requests)))

	if r.Header.Get("Authorization") != "OAuth "+Token {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if f := s.injectedFailure(r.Method, path); f != nil {
		for k, v := range f.header {
			w.Header().Set(k, v)
		}
		writeError(w, f.status, "injected failure")
		return
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case r.URL.Path == "/whoami":
		writeJSON(w, map[string]interface{}{"login": "admin", "orgIds": []int64{42}, "scopes": s.scopes})
	case parts[0] == "users" && len(parts) == 1 && r.Method == http.MethodGet:
		s.listUsers(w, r)
	case parts[0] == "users" && len(parts) == 1 && r.Method == http.MethodPost:
		s.createUser(w, body)
	case parts[0] == "users" && len(parts) == 2 && r.Method == http.MethodGet:
		s.getUser(w, parts[1])
	case parts[0] == "users" && len(parts) == 2 && r.Method == http.MethodPatch:
		s.patchUser(w, parts[1], body)
	case parts[0] == "users" && len(parts) == 3 && parts[2] == "aliases" && r.Method == http.MethodPost:
		s.addAlias(w, parts[1], body)
	case parts[0] == "users" && len(parts) == 4 && parts[2] == "aliases" && r.Method == http.MethodDelete:
		s.removeAlias(w, parts[1], parts[3])
	case parts[0] == "departments" && len(parts) == 1 && r.Method == http.MethodGet:
		s.listDepartments(w, r)
	case parts[0] == "departments" && len(parts) == 1 && r.Method == http.MethodPost:
		s.createDepartment(w, body)
	case parts[0] == "departments" && len(parts) == 2 && r.Method == http.MethodDelete:
		s.deleteDepartment(w, parts[1])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	if s.perPage > 0 {
		perPage = s.perPage
	}
	if perPage < 1 {
		perPage = 100
	}
	return page, perPage
}

func paginate(total, page, perPage int) (int, int, int) {
	pages := (total + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}
	from := (page - 1) * perPage
	if from > total {
		from = total
	}
	to := from + perPage
	if to > total {
		to = total
	}
	return from, to, pages
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	page, perPage := s.pageParams(r)
	from, to, pages := paginate(len(ids), page, perPage)
	users := make([]models.DirectoryUser, 0, to-from)
	for _, id := range ids[from:to] {
		users = append(users, *s.users[id])
	}
	writeJSON(w, map[string]interface{}{"users": users, "page": page, "pages": pages, "perPage": perPage, "total": len(ids)})
}

func (s *Server) listDepartments(w http.ResponseWriter, r *http.Request) {
	ids := make([]int64, 0, len(s.departments))
	for id := range s.departments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	page, perPage := s.pageParams(r)
	from, to, pages := paginate(len(ids), page, perPage)
	deps := make([]models.Department, 0, to-from)
	for _, id := range ids[from:to] {
		d := *s.departments[id]
		d.MembersCount = 0
		for _, u := range s.users {
			if u.DepartmentID == id {
				d.MembersCount++
			}
		}
		deps = append(deps, d)
	}
	writeJSON(w, map[string]interface{}{"departments": deps, "page": page, "pages": pages, "perPage": perPage, "total": len(ids)})
}

func (s *Server) createUser(w http.ResponseWriter, body map[string]interface{}) {
	var req models.DirectoryUser
	if err := remarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Nickname, req.Nickname) {
			writeError(w, http.StatusConflict, "nickname already taken")
			return
		}
	}
	req.ID = strconv.FormatInt(s.nextUserID, 10)
	s.nextUserID++
	if req.DepartmentID == 0 {
		req.DepartmentID = models.RootDepartmentID
	}
	if _, ok := body["isEnabled"]; !ok {
		req.IsEnabled = true
	}
	s.users[req.ID] = &req
	writeJSON(w, req)
}

func (s *Server) getUser(w http.ResponseWriter, id string) {
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, u)
}

func (s *Server) patchUser(w http.ResponseWriter, id string, body map[string]interface{}) {
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if _, changesLanguage := body["language"]; changesLanguage {
		if !u.IsEnabled {
			writeError(w, http.StatusBadRequest, "language can not be changed for a disabled user")
			return
		}
		if s.RejectLanguage {
			writeError(w, http.StatusBadRequest, "language change rejected")
			return
		}
	}
	if err := remarshal(body, u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, u)
}

func (s *Server) addAlias(w http.ResponseWriter, id string, body map[string]interface{}) {
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	alias, _ := body["alias"].(string)
	u.Aliases = append(u.Aliases, alias)
	writeJSON(w, map[string]string{"alias": alias})
}

func (s *Server) removeAlias(w http.ResponseWriter, id, alias string) {
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	kept := u.Aliases[:0]
	for _, a := range u.Aliases {
		if a != alias {
			kept = append(kept, a)
		}
	}
	u.Aliases = kept
	writeJSON(w, map[string]bool{"removed": true})
}

func (s *Server) createDepartment(w http.ResponseWriter, body map[string]interface{}) {
	name, _ := body["name"].(string)
	parent, _ := body["parentId"].(float64)
	parentID := int64(parent)
	if _, ok := s.departments[parentID]; !ok {
		writeError(w, http.StatusBadRequest, "parent department does not exist")
		return
	}
	for _, d := range s.departments {
		if d.ParentID == parentID && d.Name == name {
			writeError(w, http.StatusConflict, "department already exists")
			return
		}
	}
	id := s.addDepartmentLocked(name, parentID)
	writeJSON(w, s.departments[id])
}

func (s *Server) deleteDepartment(w http.ResponseWriter, rawID string) {
	id, _ := strconv.ParseInt(rawID, 10, 64)
	if id == models.RootDepartmentID {
		writeError(w, http.StatusBadRequest, "root department can not be deleted")
		return
	}
	if _, ok := s.departments[id]; !ok {
		writeError(w, http.StatusNotFound, "department not found")
		return
	}
	for _, d := range s.departments {
		if d.ParentID == id {
			writeError(w, http.StatusBadRequest, "department has children")
			return
		}
	}
	for _, u := range s.users {
		if u.DepartmentID == id {
			writeError(w, http.StatusBadRequest, "department has members")
			return
		}
	}
	delete(s.departments, id)
	writeJSON(w, map[string]bool{"removed": true})
}

func remarshal(in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": status, "message": message})
}
