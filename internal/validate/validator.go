// Package validate turns raw rows into typed candidate users.
package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/logging"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// FieldValidationError is one problem with one field of one row
type FieldValidationError struct {
	Row     int
	Field   string
	Value   string
	Message string
}

func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("line %d: %s %q: %s", e.Row, e.Field, e.Value, e.Message)
}

// Result collects every finding for one row
type Result struct {
	Line     int
	Login    string
	Values   map[string]string // raw values with secrets masked
	Errors   *multierror.Error
	Warnings []*FieldValidationError
}

// HasErrors reports whether a hard-required field failed
func (r *Result) HasErrors() bool {
	return r.Errors != nil && len(r.Errors.Errors) > 0
}

// Suspicious reports whether the row only has soft warnings
func (r *Result) Suspicious() bool {
	return !r.HasErrors() && len(r.Warnings) > 0
}

// Err returns the accumulated hard errors or nil
func (r *Result) Err() error {
	return r.Errors.ErrorOrNil()
}

// DepartmentLookup answers whether a numeric department exists
type DepartmentLookup interface {
	Exists(id int64) bool
}

// Options configures field rules
type Options struct {
	Mode                    models.Mode
	PasswordRule            PasswordRule
	GeneratePasswords       bool
	GeneratedPasswordLength int
	MinAgeYears             int
	MaxAgeYears             int
	Now                     func() time.Time
}

// OptionsFromConfig maps process configuration to validator options
func OptionsFromConfig(cfg *config.Config, mode models.Mode) (Options, error) {
	opts := Options{
		Mode:                    mode,
		PasswordRule:            DefaultPasswordRule,
		GeneratePasswords:       cfg.GeneratePasswords,
		GeneratedPasswordLength: cfg.GeneratedPasswordLength,
		MinAgeYears:             cfg.MinAgeYears,
		MaxAgeYears:             cfg.MaxAgeYears,
	}
	if cfg.PasswordPattern != "" {
		rule, err := PatternPasswordRule(cfg.PasswordPattern)
		if err != nil {
			return Options{}, err
		}
		opts.PasswordRule = rule
	}
	return opts, nil
}

// Validator builds candidates from raw rows
type Validator struct {
	opts        Options
	departments DepartmentLookup
	logger      *logrus.Logger
}

// New creates a validator; departments resolves numeric department references
func New(opts Options, departments DepartmentLookup, logger *logrus.Logger) *Validator {
	if opts.Mode == "" {
		opts.Mode = models.ModeCreate
	}
	if opts.PasswordRule == nil {
		opts.PasswordRule = DefaultPasswordRule
	}
	if opts.MinAgeYears <= 0 {
		opts.MinAgeYears = 10
	}
	if opts.MaxAgeYears <= 0 {
		opts.MaxAgeYears = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Validator{opts: opts, departments: departments, logger: logger}
}

type rowCheck struct {
	row    models.RawRow
	result *Result
}

func (c *rowCheck) fail(field, value, format string, args ...interface{}) {
	if logging.IsSensitive(field) {
		value = logging.Masked
	}
	c.result.Errors = multierror.Append(c.result.Errors, &FieldValidationError{
		Row: c.row.Line, Field: field, Value: value, Message: fmt.Sprintf(format, args...),
	})
}

func (c *rowCheck) warn(field, value, format string, args ...interface{}) {
	c.result.Warnings = append(c.result.Warnings, &FieldValidationError{
		Row: c.row.Line, Field: field, Value: value, Message: fmt.Sprintf(format, args...),
	})
}

// Build validates every field of a row without stopping at the first problem.
// The candidate is nil when any hard-required field failed.
func (v *Validator) Build(row models.RawRow) (*models.CandidateUser, *Result) {
	update := v.opts.Mode == models.ModeUpdate
	check := &rowCheck{row: row, result: &Result{Line: row.Line, Values: logging.MaskRow(row.Values)}}
	c := &models.CandidateUser{Line: row.Line}

	login, err := Login(row.Get(models.ColLogin))
	if err != nil {
		check.fail(models.ColLogin, row.Get(models.ColLogin), "%v", err)
	}
	c.Login = login
	check.result.Login = login

	c.Name.First = v.requiredName(check, models.ColFirstName, update)
	c.Name.Last = v.requiredName(check, models.ColLastName, update)
	if middle := row.Get(models.ColMiddleName); middle != "" {
		if middle != models.ClearedValue && !PersonName(middle) {
			check.warn(models.ColMiddleName, middle, "name should be a capitalized Cyrillic word")
		}
		c.Name.Middle = middle
	}

	v.password(check, c, update)

	if raw := row.Get(models.ColPasswordChangeRequired); raw != "" || !update {
		if b, err := Bool(raw); err != nil {
			check.fail(models.ColPasswordChangeRequired, raw, "%v", err)
		} else {
			c.PasswordChangeRequired = &b
		}
	}

	c.Language = v.enum(check, models.ColLanguage, Language)
	c.Gender = v.enum(check, models.ColGender, Gender)
	c.Position = row.Get(models.ColPosition)

	if raw := row.Get(models.ColBirthday); raw == models.ClearedValue {
		c.Birthday = raw
	} else if raw != "" {
		iso, err := Birthday(raw, v.opts.Now(), v.opts.MinAgeYears, v.opts.MaxAgeYears)
		if err != nil {
			check.fail(models.ColBirthday, raw, "%v", err)
		}
		c.Birthday = iso
	}

	c.WorkPhone = v.optional(check, models.ColWorkPhone, Phone)
	c.MobilePhone = v.optional(check, models.ColMobilePhone, Phone)
	c.PersonalEmail = v.optional(check, models.ColPersonalEmail, Email)

	c.Department = v.department(check, update)
	c.Aliases = v.aliases(check)
	c.IsEnabled = v.flag(check, models.ColIsEnabled)
	c.IsAdmin = v.flag(check, models.ColIsAdmin)

	for _, w := range check.result.Warnings {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s: %s", w.Field, w.Message))
	}

	if check.result.HasErrors() {
		for _, e := range check.result.Errors.Errors {
			v.logger.WithFields(logrus.Fields{
				"line":  row.Line,
				"login": login,
			}).Error(e.Error())
		}
		return nil, check.result
	}
	for _, w := range check.result.Warnings {
		v.logger.WithFields(logrus.Fields{
			"line":  row.Line,
			"login": login,
		}).Warn(w.Error())
	}
	return c, check.result
}

func (v *Validator) requiredName(check *rowCheck, field string, update bool) string {
	value := check.row.Get(field)
	switch {
	case value == "":
		if !update {
			check.fail(field, value, "is empty")
		}
	case value == models.ClearedValue:
		check.fail(field, value, "can not be cleared")
	case !PersonName(value):
		check.warn(field, value, "name should be a capitalized Cyrillic word")
	}
	return value
}

func (v *Validator) password(check *rowCheck, c *models.CandidateUser, update bool) {
	value := check.row.Get(models.ColPassword)
	switch {
	case value == models.ClearedValue:
		check.fail(models.ColPassword, value, "can not be cleared")
	case value != "":
		if err := v.opts.PasswordRule(value); err != nil {
			check.fail(models.ColPassword, value, "%v", err)
			return
		}
		c.Password = value
	case update:
		// empty keeps the current password
	case v.opts.GeneratePasswords:
		generated, err := GeneratePasswordFor(v.opts.GeneratedPasswordLength, v.opts.PasswordRule)
		if err != nil {
			check.fail(models.ColPassword, "", "%v", err)
			return
		}
		c.Password = generated
		c.PasswordGenerated = true
	default:
		check.fail(models.ColPassword, value, "is empty and password generation is disabled")
	}
}

func (v *Validator) enum(check *rowCheck, field string, parse func(string) (string, bool)) string {
	raw := check.row.Get(field)
	if raw == models.ClearedValue {
		check.warn(field, raw, "can not be cleared, left unchanged")
		return ""
	}
	value, ok := parse(raw)
	if !ok {
		check.warn(field, raw, "unknown value, left empty")
	}
	return value
}

func (v *Validator) optional(check *rowCheck, field string, parse func(string) (string, error)) string {
	raw := check.row.Get(field)
	if raw == "" || raw == models.ClearedValue {
		return raw
	}
	value, err := parse(raw)
	if err != nil {
		check.fail(field, raw, "%v", err)
		return raw
	}
	return value
}

func (v *Validator) department(check *rowCheck, update bool) models.DepartmentRef {
	raw := check.row.Get(models.ColDepartment)
	switch {
	case raw == "":
		if update {
			return models.DepartmentRef{}
		}
		return models.DepartmentRef{ID: models.RootDepartmentID}
	case raw == models.ClearedValue:
		return models.DepartmentRef{ID: models.RootDepartmentID}
	}

	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if id == models.RootDepartmentID {
			return models.DepartmentRef{ID: id}
		}
		if id < models.RootDepartmentID || v.departments == nil || !v.departments.Exists(id) {
			check.fail(models.ColDepartment, raw, "department %d does not exist", id)
		}
		return models.DepartmentRef{ID: id}
	}

	path := directory.NormalizePath(raw)
	if path == "" {
		check.fail(models.ColDepartment, raw, "department path is empty")
	}
	return models.DepartmentRef{Path: path}
}

func (v *Validator) aliases(check *rowCheck) []string {
	raw := check.row.Get(models.ColAliases)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		alias, err := Alias(part)
		if err != nil {
			check.fail(models.ColAliases, part, "%v", err)
			continue
		}
		if _, dup := seen[alias]; dup {
			continue
		}
		seen[alias] = struct{}{}
		out = append(out, alias)
	}
	return out
}

func (v *Validator) flag(check *rowCheck, field string) *bool {
	raw := strings.TrimSpace(check.row.Get(field))
	if raw == "" {
		return nil
	}
	b, err := Bool(raw)
	if err != nil {
		check.fail(field, raw, "%v", err)
		return nil
	}
	return &b
}

// Partition splits a batch into correct, suspicious and rejected rows
type Partition struct {
	Correct    []*models.CandidateUser
	Suspicious []*models.CandidateUser
	Rejected   []*Result
}

// Partition validates every row of a batch
func (v *Validator) Partition(rows []models.RawRow) *Partition {
	p := &Partition{}
	for _, row := range rows {
		c, res := v.Build(row)
		switch {
		case res.HasErrors():
			p.Rejected = append(p.Rejected, res)
		case res.Suspicious():
			p.Suspicious = append(p.Suspicious, c)
		default:
			p.Correct = append(p.Correct, c)
		}
	}
	v.logger.WithFields(logrus.Fields{
		"correct":    len(p.Correct),
		"suspicious": len(p.Suspicious),
		"rejected":   len(p.Rejected),
	}).Info("Rows validated")
	return p
}

// Candidates returns correct and suspicious rows in input order
func (p *Partition) Candidates() []*models.CandidateUser {
	out := make([]*models.CandidateUser, 0, len(p.Correct)+len(p.Suspicious))
	out = append(out, p.Correct...)
	out = append(out, p.Suspicious...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

// Err rejects the whole batch when any row has a hard error
func (p *Partition) Err() error {
	if len(p.Rejected) == 0 {
		return nil
	}
	return &RejectedRowsError{Rows: p.Rejected}
}

// RejectedRowsError lists every row that blocks a batch
type RejectedRowsError struct {
	Rows []*Result
}

func (e *RejectedRowsError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d rows failed validation", len(e.Rows))
	for _, r := range e.Rows {
		for _, fe := range r.Errors.Errors {
			b.WriteString("\n\t* ")
			b.WriteString(fe.Error())
		}
	}
	return b.String()
}

// FieldErrors flattens every field error of the rejected rows
func (e *RejectedRowsError) FieldErrors() []*FieldValidationError {
	var out []*FieldValidationError
	for _, r := range e.Rows {
		for _, err := range r.Errors.Errors {
			if fe, ok := err.(*FieldValidationError); ok {
				out = append(out, fe)
			}
		}
	}
	return out
}
