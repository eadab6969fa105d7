package mutation

import (
	"encoding/json"
	"strings"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/tidwall/gjson"
)

// Contact labels of the two phone columns
const (
	LabelWork   = "Work"
	LabelMobile = "Mobile"
)

// BuildCreateRequest assembles the create payload of a candidate. Path
// department references are created in the root department and moved once
// the hierarchy is reconciled.
func BuildCreateRequest(c *models.CandidateUser) *directory.CreateUserRequest {
	req := &directory.CreateUserRequest{
		Nickname:     c.Login,
		Name:         c.Name,
		Password:     c.Password,
		DepartmentID: models.RootDepartmentID,
		Position:     cleared(c.Position),
		Language:     c.Language,
		Gender:       c.Gender,
		Birthday:     cleared(c.Birthday),
		About:        aboutBlob(cleared(c.PersonalEmail)),
		IsEnabled:    c.IsEnabled,
	}
	req.Name.Middle = cleared(req.Name.Middle)
	if c.PasswordChangeRequired != nil {
		req.PasswordChangeRequired = *c.PasswordChangeRequired
	}
	if c.IsAdmin != nil {
		req.IsAdmin = *c.IsAdmin
	}
	if !c.Department.IsPath() && c.Department.ID > 0 {
		req.DepartmentID = c.Department.ID
	}
	if phone := cleared(c.WorkPhone); phone != "" {
		req.Contacts = append(req.Contacts, phoneContact(phone, LabelWork))
	}
	if phone := cleared(c.MobilePhone); phone != "" {
		req.Contacts = append(req.Contacts, phoneContact(phone, LabelMobile))
	}
	return req
}

// Diff computes the minimal patch that turns current into the requested
// state. departmentID is zero when the department is left alone.
func Diff(current *models.DirectoryUser, c *models.CandidateUser, departmentID int64) *directory.UserPatch {
	patch := &directory.UserPatch{}

	name := current.Name
	if c.Name.First != "" {
		name.First = c.Name.First
	}
	if c.Name.Last != "" {
		name.Last = c.Name.Last
	}
	if c.Name.Middle != "" {
		name.Middle = cleared(c.Name.Middle)
	}
	if name != current.Name {
		patch.Name = &name
	}

	patch.Position = changed(current.Position, c.Position)
	patch.Birthday = changed(current.Birthday, c.Birthday)
	if c.Language != "" && !strings.EqualFold(current.Language, c.Language) {
		patch.Language = &c.Language
	}
	if c.Gender != "" && !strings.EqualFold(current.Gender, c.Gender) {
		patch.Gender = &c.Gender
	}

	if c.PersonalEmail != "" {
		want := cleared(c.PersonalEmail)
		if !strings.EqualFold(personalEmail(current.About), want) {
			about := aboutBlob(want)
			patch.About = &about
		}
	}

	if contacts, ok := diffContacts(current, c); ok {
		patch.Contacts = &contacts
	}

	if departmentID > 0 && departmentID != current.DepartmentID {
		id := departmentID
		patch.DepartmentID = &id
	}

	if c.Password != "" {
		password := c.Password
		patch.Password = &password
	}
	if r := c.PasswordChangeRequired; r != nil && (c.Password != "" || *r != current.PasswordChangeRequired) {
		required := *r
		patch.PasswordChangeRequired = &required
	}

	if c.IsEnabled != nil && *c.IsEnabled != current.IsEnabled {
		enabled := *c.IsEnabled
		patch.IsEnabled = &enabled
	}
	if c.IsAdmin != nil && *c.IsAdmin != current.IsAdmin {
		admin := *c.IsAdmin
		patch.IsAdmin = &admin
	}
	return patch
}

// NewAliases returns the requested aliases the identity does not have yet
func NewAliases(current *models.DirectoryUser, requested []string) []string {
	have := map[string]struct{}{strings.ToLower(current.Nickname): {}}
	for _, a := range current.Aliases {
		have[strings.ToLower(a)] = struct{}{}
	}
	var out []string
	for _, a := range requested {
		if _, ok := have[strings.ToLower(a)]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// diffContacts rebuilds the editable contact list when a phone changes.
// Synthetic contacts are owned by the directory and never sent back.
func diffContacts(current *models.DirectoryUser, c *models.CandidateUser) ([]models.Contact, bool) {
	work := desired(current.PhoneContact(LabelWork), c.WorkPhone)
	mobile := desired(current.PhoneContact(LabelMobile), c.MobilePhone)
	if work == current.PhoneContact(LabelWork) && mobile == current.PhoneContact(LabelMobile) {
		return nil, false
	}

	out := []models.Contact{}
	for _, ct := range current.Contacts {
		if ct.Synthetic {
			continue
		}
		if ct.Type == "phone" && (strings.EqualFold(ct.Label, LabelWork) || strings.EqualFold(ct.Label, LabelMobile)) {
			continue
		}
		out = append(out, ct)
	}
	if work != "" {
		out = append(out, phoneContact(work, LabelWork))
	}
	if mobile != "" {
		out = append(out, phoneContact(mobile, LabelMobile))
	}
	return out, true
}

func phoneContact(value, label string) models.Contact {
	return models.Contact{Type: "phone", Value: value, Label: label}
}

// aboutBlob stores the personal e-mail in the opaque profile field
func aboutBlob(email string) string {
	if email == "" {
		return ""
	}
	data, _ := json.Marshal(map[string]string{"email": email})
	return string(data)
}

func personalEmail(about string) string {
	if about == "" || !gjson.Valid(about) {
		return ""
	}
	return gjson.Get(about, "email").String()
}

// cleared maps the explicit-clear marker to an empty value
func cleared(v string) string {
	if v == models.ClearedValue {
		return ""
	}
	return v
}

// desired resolves an update value: empty keeps current, the marker clears
func desired(current, requested string) string {
	switch requested {
	case "":
		return current
	case models.ClearedValue:
		return ""
	default:
		return requested
	}
}

func changed(current, requested string) *string {
	want := desired(current, requested)
	if want == current {
		return nil
	}
	return &want
}
