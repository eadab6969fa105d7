package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/xuri/excelize/v2"
)

// UserColumns is the header of the full-attribute export
var UserColumns = []string{
	"id", "nickname", "departmentId", "department", "email",
	"name.first", "name.last", "name.middle",
	"gender", "position", "about", "birthday", "language", "timezone",
	"contacts", "aliases", "groups", "externalId",
	"isAdmin", "isRobot", "isDismissed", "isEnabled",
	"createdAt", "updatedAt",
}

// UserRecord flattens one identity into UserColumns order; nested values are JSON
func UserRecord(u *models.DirectoryUser, tree *directory.Hierarchy) []string {
	department := ""
	if tree != nil {
		department, _ = tree.PathOf(u.DepartmentID)
	}
	return []string{
		u.ID,
		u.Nickname,
		strconv.FormatInt(u.DepartmentID, 10),
		department,
		u.Email,
		u.Name.First,
		u.Name.Last,
		u.Name.Middle,
		u.Gender,
		u.Position,
		u.About,
		u.Birthday,
		u.Language,
		u.Timezone,
		jsonValue(u.Contacts),
		jsonValue(u.Aliases),
		jsonValue(u.Groups),
		u.ExternalID,
		strconv.FormatBool(u.IsAdmin),
		strconv.FormatBool(u.IsRobot),
		strconv.FormatBool(u.IsDismissed),
		strconv.FormatBool(u.IsEnabled),
		u.CreatedAt,
		u.UpdatedAt,
	}
}

func jsonValue(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}

// UsersCSV writes the full-attribute export with the input delimiter
func UsersCSV(w io.Writer, users []models.DirectoryUser, tree *directory.Hierarchy) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(UserColumns); err != nil {
		return err
	}
	for i := range users {
		if err := cw.Write(UserRecord(&users[i], tree)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// UsersSheet is the worksheet name of the spreadsheet export
const UsersSheet = "Users"

// UsersXLSX writes the full-attribute export as a spreadsheet
func UsersXLSX(w io.Writer, users []models.DirectoryUser, tree *directory.Hierarchy) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", UsersSheet); err != nil {
		return fmt.Errorf("failed to name worksheet: %w", err)
	}

	writeRow := func(row int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		record := make([]interface{}, len(values))
		for i, v := range values {
			record[i] = v
		}
		return f.SetSheetRow(UsersSheet, cell, &record)
	}

	if err := writeRow(1, UserColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := range users {
		if err := writeRow(i+2, UserRecord(&users[i], tree)); err != nil {
			return fmt.Errorf("failed to write %s: %w", users[i].Nickname, err)
		}
	}
	if err := f.SetPanes(UsersSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	return f.Write(w)
}

// UserAttributes writes a human-readable dump of one identity
func UserAttributes(w io.Writer, u *models.DirectoryUser, tree *directory.Hierarchy) error {
	var b strings.Builder
	line := strings.Repeat("-", 56)
	fmt.Fprintf(&b, "Attributes of user id %s\n%s\n", u.ID, line)
	fmt.Fprintf(&b, "nickname: %s\n", u.Nickname)
	fmt.Fprintf(&b, "Name:\n - first: %s\n - last: %s\n - middle: %s\n", u.Name.First, u.Name.Last, u.Name.Middle)
	fmt.Fprintf(&b, "departmentId: %d\n", u.DepartmentID)
	if u.DepartmentID == models.RootDepartmentID {
		b.WriteString("Department: not set\n")
	} else if tree != nil {
		if path, ok := tree.PathOf(u.DepartmentID); ok {
			fmt.Fprintf(&b, "Department: %s\n", path)
		}
	}
	fmt.Fprintf(&b, "email: %s\n", u.Email)
	fmt.Fprintf(&b, "position: %s\n", u.Position)
	fmt.Fprintf(&b, "gender: %s\n", u.Gender)
	fmt.Fprintf(&b, "birthday: %s\n", u.Birthday)
	fmt.Fprintf(&b, "language: %s\n", u.Language)
	fmt.Fprintf(&b, "about: %s\n", u.About)
	b.WriteString("Contacts:\n")
	for _, c := range u.Contacts {
		fmt.Fprintf(&b, " - type: %s\n - value: %s\n", c.Type, c.Value)
		if c.Label != "" {
			fmt.Fprintf(&b, " - label: %s\n", c.Label)
		}
		b.WriteString(" -\n")
	}
	if len(u.Aliases) == 0 {
		b.WriteString("Aliases: []\n")
	} else {
		b.WriteString("Aliases:\n")
		for _, a := range u.Aliases {
			fmt.Fprintf(&b, " - %s\n", a)
		}
	}
	fmt.Fprintf(&b, "isEnabled: %t\nisAdmin: %t\n", u.IsEnabled, u.IsAdmin)
	fmt.Fprintf(&b, "createdAt: %s\nupdatedAt: %s\n%s\n", u.CreatedAt, u.UpdatedAt, line)

	_, err := io.WriteString(w, b.String())
	return err
}

// UniqueFileName returns path unchanged when it does not exist yet,
// otherwise the same name with a _YYYYMMDD_HHMMSS suffix before the extension
func UniqueFileName(path string, now time.Time) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	candidate := fmt.Sprintf("%s_%s%s", base, now.Format("20060102_150405"), ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%s_%d%s", base, now.Format("20060102_150405"), i, ext)
	}
}

// CreateFile opens a new export file under dir with a unique name
func CreateFile(dir, name string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	path := UniqueFileName(filepath.Join(dir, name), now)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}
