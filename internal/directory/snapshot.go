package directory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/devplatform/directory-sync/internal/models"
	"github.com/hashicorp/go-memdb"
)

const identityTable = "identity"

// identity is the indexed projection of a directory user
type identity struct {
	ID          string
	Nickname    string
	LastName    string
	Aliases     []string
	EmailLocals []string
	User        *models.DirectoryUser
}

var identitySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		identityTable: {
			Name: identityTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"nickname": {
					Name:         "nickname",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "Nickname", Lowercase: true},
				},
				"last_name": {
					Name:         "last_name",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "LastName", Lowercase: true},
				},
				"alias": {
					Name:         "alias",
					AllowMissing: true,
					Indexer:      &memdb.StringSliceFieldIndex{Field: "Aliases", Lowercase: true},
				},
				"email_local": {
					Name:         "email_local",
					AllowMissing: true,
					Indexer:      &memdb.StringSliceFieldIndex{Field: "EmailLocals", Lowercase: true},
				},
			},
		},
	},
}

// UserSnapshot is a read-only copy of the directory identities with lookup indexes
type UserSnapshot struct {
	users     []models.DirectoryUser
	db        *memdb.MemDB
	FetchedAt time.Time
}

// NewUserSnapshot indexes a list of identities
func NewUserSnapshot(users []models.DirectoryUser, fetchedAt time.Time) (*UserSnapshot, error) {
	db, err := memdb.NewMemDB(identitySchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity index: %w", err)
	}

	s := &UserSnapshot{
		users:     make([]models.DirectoryUser, len(users)),
		db:        db,
		FetchedAt: fetchedAt,
	}
	copy(s.users, users)

	txn := db.Txn(true)
	for i := range s.users {
		u := &s.users[i]
		if err := txn.Insert(identityTable, &identity{
			ID:          u.ID,
			Nickname:    u.Nickname,
			LastName:    u.Name.Last,
			Aliases:     u.Aliases,
			EmailLocals: u.EmailLocalParts(),
			User:        u,
		}); err != nil {
			txn.Abort()
			return nil, fmt.Errorf("failed to index user %s: %w", u.ID, err)
		}
	}
	txn.Commit()

	return s, nil
}

// Users returns every identity of the snapshot
func (s *UserSnapshot) Users() []models.DirectoryUser {
	return s.users
}

// Len returns the number of identities
func (s *UserSnapshot) Len() int {
	return len(s.users)
}

// ByID returns the identity with the given id
func (s *UserSnapshot) ByID(id string) *models.DirectoryUser {
	txn := s.db.Txn(false)
	raw, err := txn.First(identityTable, "id", id)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*identity).User
}

func (s *UserSnapshot) lookup(index, value string) []*models.DirectoryUser {
	txn := s.db.Txn(false)
	it, err := txn.Get(identityTable, index, strings.ToLower(value))
	if err != nil {
		return nil
	}
	var out []*models.DirectoryUser
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*identity).User)
	}
	return out
}

// ByNickname returns the identity whose nickname equals login
func (s *UserSnapshot) ByNickname(login string) *models.DirectoryUser {
	if found := s.lookup("nickname", login); len(found) > 0 {
		return found[0]
	}
	return nil
}

// Resolve finds the identity a login refers to, by nickname first and alias second
func (s *UserSnapshot) Resolve(login string) *models.DirectoryUser {
	if u := s.ByNickname(login); u != nil {
		return u
	}
	if found := s.lookup("alias", login); len(found) > 0 {
		return found[0]
	}
	return nil
}

// Holder is an identity that already uses a login-like value
type Holder struct {
	User  *models.DirectoryUser
	Field string // nickname, alias or email
}

// Holders returns every identity using value as nickname, alias or e-mail local part
func (s *UserSnapshot) Holders(value string) []Holder {
	var out []Holder
	seen := make(map[string]struct{})
	add := func(field string, users []*models.DirectoryUser) {
		for _, u := range users {
			key := u.ID + "/" + field
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Holder{User: u, Field: field})
		}
	}
	add("nickname", s.lookup("nickname", value))
	add("alias", s.lookup("alias", value))
	add("email", s.lookup("email_local", value))
	return out
}

// Search finds identities by id, nickname, alias, e-mail or exact last name.
// Terms may be separated by spaces, commas or semicolons.
func (s *UserSnapshot) Search(query string) []*models.DirectoryUser {
	terms := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '\t'
	})

	var out []*models.DirectoryUser
	seen := make(map[string]struct{})
	add := func(users ...*models.DirectoryUser) {
		for _, u := range users {
			if u == nil {
				continue
			}
			if _, ok := seen[u.ID]; ok {
				continue
			}
			seen[u.ID] = struct{}{}
			out = append(out, u)
		}
	}

	for _, term := range terms {
		if at := strings.Index(term, "@"); at >= 0 {
			term = term[:at]
		}
		if isDigits(term) {
			add(s.ByID(term))
			continue
		}
		if u := s.Resolve(term); u != nil {
			add(u)
			continue
		}
		add(s.lookup("email_local", term)...)
		add(s.lookup("last_name", term)...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
