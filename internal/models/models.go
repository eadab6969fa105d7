package models

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how a batch is applied to the directory
type Mode string

const (
	ModeCreate Mode = "create"
	ModeUpdate Mode = "update"
)

// RootDepartmentID is the implicit "all members" department
const RootDepartmentID int64 = 1

// PathSeparator joins department names into a path
const PathSeparator = "|"

// ClearedValue marks a field the operator explicitly asked to blank
const ClearedValue = " "

// Column names of the input table
const (
	ColLogin                  = "login"
	ColPassword               = "password"
	ColPasswordChangeRequired = "password_change_required"
	ColFirstName              = "first_name"
	ColLastName               = "last_name"
	ColMiddleName             = "middle_name"
	ColPosition               = "position"
	ColGender                 = "gender"
	ColBirthday               = "birthday"
	ColLanguage               = "language"
	ColWorkPhone              = "work_phone"
	ColMobilePhone            = "mobile_phone"
	ColPersonalEmail          = "personal_email"
	ColDepartment             = "department"

	ColAliases   = "aliases"
	ColIsEnabled = "is_enabled"
	ColIsAdmin   = "is_admin"
)

// RequiredColumns is the fixed header of every input file, in export order
var RequiredColumns = []string{
	ColLogin, ColPassword, ColPasswordChangeRequired, ColFirstName, ColLastName, ColMiddleName,
	ColPosition, ColGender, ColBirthday, ColLanguage, ColWorkPhone, ColMobilePhone,
	ColPersonalEmail, ColDepartment,
}

// OptionalColumns may appear in addition to RequiredColumns
var OptionalColumns = []string{ColAliases, ColIsEnabled, ColIsAdmin}

// RawRow is one input line keyed by column name
type RawRow struct {
	Line    int
	Columns []string
	Values  map[string]string
}

// Get returns the value of a column, empty when the column is absent
func (r RawRow) Get(column string) string {
	return r.Values[column]
}

// Has reports whether the column was declared in the header
func (r RawRow) Has(column string) bool {
	_, ok := r.Values[column]
	return ok
}

// Name is the structured person name
type Name struct {
	First  string `json:"first"`
	Last   string `json:"last"`
	Middle string `json:"middle"`
}

// DepartmentRef is the raw department reference of a row
type DepartmentRef struct {
	ID   int64  // set when the reference is numeric
	Path string // set when the reference is a pipe-delimited path
}

// IsPath reports whether the reference needs hierarchy reconciliation
func (d DepartmentRef) IsPath() bool {
	return d.Path != ""
}

// String renders the reference back to its input form
func (d DepartmentRef) String() string {
	if d.IsPath() {
		return d.Path
	}
	if d.ID == 0 {
		return ""
	}
	return fmt.Sprintf("%d", d.ID)
}

// CandidateUser is a validated, normalised projection of a RawRow.
// Optional string fields use "" for omitted and ClearedValue for explicit clear.
type CandidateUser struct {
	Line                   int
	Login                  string
	Name                   Name
	Password               string
	PasswordGenerated      bool
	PasswordChangeRequired *bool
	Language               string
	Gender                 string
	Birthday               string // ISO 8601 date
	Position               string
	WorkPhone              string
	MobilePhone            string
	PersonalEmail          string
	Department             DepartmentRef
	Aliases                []string
	IsEnabled              *bool
	IsAdmin                *bool
	Warnings               []string
}

// DisplayName returns "Last First" for log lines
func (c *CandidateUser) DisplayName() string {
	return strings.TrimSpace(c.Name.Last + " " + c.Name.First)
}

// Contact is an entry of the identity contact list
type Contact struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Label     string `json:"label,omitempty"`
	Main      bool   `json:"main,omitempty"`
	Alias     bool   `json:"alias,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// DirectoryUser is an identity as returned by the remote directory
type DirectoryUser struct {
	ID                     string    `json:"id"`
	Nickname               string    `json:"nickname"`
	DepartmentID           int64     `json:"departmentId"`
	Email                  string    `json:"email"`
	Name                   Name      `json:"name"`
	Gender                 string    `json:"gender"`
	Position               string    `json:"position"`
	Avatar                 string    `json:"avatarId,omitempty"`
	About                  string    `json:"about"`
	Birthday               string    `json:"birthday"`
	Contacts               []Contact `json:"contacts"`
	Aliases                []string  `json:"aliases"`
	Groups                 []int64   `json:"groups"`
	ExternalID             string    `json:"externalId"`
	IsAdmin                bool      `json:"isAdmin"`
	IsRobot                bool      `json:"isRobot"`
	IsDismissed            bool      `json:"isDismissed"`
	IsEnabled              bool      `json:"isEnabled"`
	Timezone               string    `json:"timezone"`
	Language               string    `json:"language"`
	CreatedAt              string    `json:"createdAt"`
	UpdatedAt              string    `json:"updatedAt"`
	PasswordChangeRequired bool      `json:"passwordChangeRequired,omitempty"`
}

// EmailLocalParts returns the lowercased local parts of every e-mail contact
func (u *DirectoryUser) EmailLocalParts() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(email string) {
		local := strings.ToLower(strings.TrimSpace(strings.SplitN(email, "@", 2)[0]))
		if local == "" {
			return
		}
		if _, ok := seen[local]; ok {
			return
		}
		seen[local] = struct{}{}
		out = append(out, local)
	}
	if u.Email != "" {
		add(u.Email)
	}
	for _, c := range u.Contacts {
		if c.Type == "email" {
			add(c.Value)
		}
	}
	return out
}

// PhoneContact returns the phone contact value with the given label
func (u *DirectoryUser) PhoneContact(label string) string {
	for _, c := range u.Contacts {
		if c.Type == "phone" && !c.Synthetic && strings.EqualFold(c.Label, label) {
			return c.Value
		}
	}
	return ""
}

// Department is a department as returned by the remote directory
type Department struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	ParentID     int64    `json:"parentId"`
	Label        string   `json:"label"`
	Email        string   `json:"email"`
	EmailID      int64    `json:"emailId"`
	Aliases      []string `json:"aliases"`
	MembersCount int      `json:"membersCount"`
	Description  string   `json:"description"`
	CreatedAt    string   `json:"createdAt"`
	HeadID       string   `json:"headId,omitempty"`
}

// DepartmentNode is a department with its fully qualified path
type DepartmentNode struct {
	ID       int64
	ParentID int64
	Path     string
}

// PendingDepartmentPath is one distinct path prefix required by a batch
type PendingDepartmentPath struct {
	Current    string
	ParentPath string
	Level      int
	ResolvedID int64
}

// Path returns the full path of the pending node
func (p PendingDepartmentPath) Path() string {
	if p.ParentPath == "" {
		return p.Current
	}
	return p.ParentPath + PathSeparator + p.Current
}

// OutcomeKind is the terminal state of a row
type OutcomeKind string

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the per-row result of a batch
type Outcome struct {
	Line     int         `json:"line"`
	Login    string      `json:"login"`
	Kind     OutcomeKind `json:"kind"`
	Reason   string      `json:"reason,omitempty"`
	UserID   string      `json:"userId,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// BatchReport accumulates outcomes of one run
type BatchReport struct {
	Mode       Mode      `json:"mode"`
	DryRun     bool      `json:"dryRun"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Outcomes   []Outcome `json:"outcomes"`

	DepartmentsCreated []string `json:"departmentsCreated,omitempty"`
	Errors             []string `json:"errors,omitempty"`
}

// Add records an outcome
func (r *BatchReport) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Count returns the number of outcomes of the given kind
func (r *BatchReport) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Failed returns the failed outcomes
func (r *BatchReport) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeFailed {
			out = append(out, o)
		}
	}
	return out
}

// Err returns a PartialBatchFailure when at least one row failed
func (r *BatchReport) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &PartialBatchFailure{Failed: failed, Total: len(r.Outcomes)}
}

// PartialBatchFailure reports that some rows of a batch failed
type PartialBatchFailure struct {
	Failed []Outcome
	Total  int
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("%d of %d rows failed", len(e.Failed), e.Total)
}

// HealthStatus is the readiness check payload
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Directory bool   `json:"directory"`
}
