// Package export writes directory state and candidates to files.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/devplatform/directory-sync/internal/mutation"
	"github.com/devplatform/directory-sync/internal/rows"
	"github.com/tidwall/gjson"
)

// ShortColumns is the header of the re-importable short form
var ShortColumns = append(append([]string{}, models.RequiredColumns...), models.OptionalColumns...)

// ShortCSV writes candidates in the input table format so the file can be
// fed back to the importer. clearValue is written for explicitly cleared
// fields; the delimiter never appears inside a value.
func ShortCSV(w io.Writer, candidates []*models.CandidateUser, clearValue string) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(ShortColumns, rows.DefaultDelimiter) + "\n"); err != nil {
		return err
	}
	for _, c := range candidates {
		values := shortValues(c, clearValue)
		line := make([]string, len(ShortColumns))
		for i, col := range ShortColumns {
			line[i] = strings.ReplaceAll(values[col], rows.DefaultDelimiter, ",")
		}
		if _, err := bw.WriteString(strings.Join(line, rows.DefaultDelimiter) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func shortValues(c *models.CandidateUser, clearValue string) map[string]string {
	v := func(s string) string {
		if s == models.ClearedValue {
			return clearValue
		}
		return s
	}
	return map[string]string{
		models.ColLogin:                  c.Login,
		models.ColPassword:               c.Password,
		models.ColPasswordChangeRequired: boolValue(c.PasswordChangeRequired),
		models.ColFirstName:              v(c.Name.First),
		models.ColLastName:               v(c.Name.Last),
		models.ColMiddleName:             v(c.Name.Middle),
		models.ColPosition:               v(c.Position),
		models.ColGender:                 c.Gender,
		models.ColBirthday:               v(c.Birthday),
		models.ColLanguage:               c.Language,
		models.ColWorkPhone:              v(c.WorkPhone),
		models.ColMobilePhone:            v(c.MobilePhone),
		models.ColPersonalEmail:          v(c.PersonalEmail),
		models.ColDepartment:             c.Department.String(),
		models.ColAliases:                strings.Join(c.Aliases, ","),
		models.ColIsEnabled:              boolValue(c.IsEnabled),
		models.ColIsAdmin:                boolValue(c.IsAdmin),
	}
}

func boolValue(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

// CandidatesFromDirectory projects existing identities onto the short form.
// Passwords are never known and stay empty.
func CandidatesFromDirectory(users []models.DirectoryUser, tree *directory.Hierarchy) []*models.CandidateUser {
	out := make([]*models.CandidateUser, 0, len(users))
	for i := range users {
		u := &users[i]
		enabled, admin := u.IsEnabled, u.IsAdmin
		c := &models.CandidateUser{
			Line:          i + 2,
			Login:         u.Nickname,
			Name:          u.Name,
			Language:      u.Language,
			Gender:        u.Gender,
			Birthday:      u.Birthday,
			Position:      u.Position,
			WorkPhone:     u.PhoneContact(mutation.LabelWork),
			MobilePhone:   u.PhoneContact(mutation.LabelMobile),
			PersonalEmail: gjson.Get(u.About, "email").String(),
			Department:    departmentRef(u.DepartmentID, tree),
			Aliases:       u.Aliases,
			IsEnabled:     &enabled,
			IsAdmin:       &admin,
		}
		out = append(out, c)
	}
	return out
}

func departmentRef(id int64, tree *directory.Hierarchy) models.DepartmentRef {
	if tree != nil {
		if path, ok := tree.PathOf(id); ok && path != "" {
			return models.DepartmentRef{Path: path}
		}
	}
	return models.DepartmentRef{ID: id}
}

// Departments writes one "id|path" line per department
func Departments(w io.Writer, nodes []models.DepartmentNode) error {
	bw := bufio.NewWriter(w)
	for _, n := range nodes {
		if _, err := fmt.Fprintf(bw, "%d%s%s\n", n.ID, models.PathSeparator, n.Path); err != nil {
			return err
		}
	}
	return bw.Flush()
}
