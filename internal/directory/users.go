package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/devplatform/directory-sync/internal/models"
	"github.com/sirupsen/logrus"
)

// MinHumanUserID is the lowest identity id that belongs to a person rather than a service account
const MinHumanUserID int64 = 1130000000000000

// CreateUserRequest is the payload for creating an identity
type CreateUserRequest struct {
	Nickname               string           `json:"nickname"`
	Name                   models.Name      `json:"name"`
	Password               string           `json:"password"`
	PasswordChangeRequired bool             `json:"passwordChangeRequired"`
	DepartmentID           int64            `json:"departmentId"`
	Position               string           `json:"position,omitempty"`
	Language               string           `json:"language,omitempty"`
	Gender                 string           `json:"gender,omitempty"`
	Birthday               string           `json:"birthday,omitempty"`
	About                  string           `json:"about,omitempty"`
	Contacts               []models.Contact `json:"contacts,omitempty"`
	IsAdmin                bool             `json:"isAdmin"`
	IsEnabled              *bool            `json:"isEnabled,omitempty"`
}

// UserPatch is a minimal update; nil fields are left untouched
type UserPatch struct {
	Name                   *models.Name      `json:"name,omitempty"`
	Position               *string           `json:"position,omitempty"`
	Language               *string           `json:"language,omitempty"`
	Gender                 *string           `json:"gender,omitempty"`
	Birthday               *string           `json:"birthday,omitempty"`
	About                  *string           `json:"about,omitempty"`
	Contacts               *[]models.Contact `json:"contacts,omitempty"`
	DepartmentID           *int64            `json:"departmentId,omitempty"`
	Password               *string           `json:"password,omitempty"`
	PasswordChangeRequired *bool             `json:"passwordChangeRequired,omitempty"`
	IsEnabled              *bool             `json:"isEnabled,omitempty"`
	IsAdmin                *bool             `json:"isAdmin,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p *UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Position == nil && p.Language == nil && p.Gender == nil &&
		p.Birthday == nil && p.About == nil && p.Contacts == nil && p.DepartmentID == nil &&
		p.Password == nil && p.PasswordChangeRequired == nil && p.IsEnabled == nil && p.IsAdmin == nil
}

type usersPage struct {
	Users   []models.DirectoryUser `json:"users"`
	Page    int                    `json:"page"`
	Pages   int                    `json:"pages"`
	PerPage int                    `json:"perPage"`
	Total   int                    `json:"total"`
}

// isHuman filters out robots and service identities
func isHuman(u *models.DirectoryUser) bool {
	if u.IsRobot {
		return false
	}
	id, err := strconv.ParseInt(u.ID, 10, 64)
	if err != nil {
		return false
	}
	return id >= MinHumanUserID
}

// ListUsers fetches every human identity of the organization
func (c *Client) ListUsers(ctx context.Context) ([]models.DirectoryUser, error) {
	var users []models.DirectoryUser
	page, pages := 1, 1

	for page <= pages {
		var resp usersPage
		err := c.Do(ctx, Call{
			Op:     "list_users",
			Method: http.MethodGet,
			Path:   "/users",
			Query: url.Values{
				"page":    {strconv.Itoa(page)},
				"perPage": {strconv.Itoa(c.opts.UsersPerPage)},
			},
			Result: &resp,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list users (page %d): %w", page, err)
		}

		for i := range resp.Users {
			if isHuman(&resp.Users[i]) {
				users = append(users, resp.Users[i])
			}
		}

		c.logger.WithFields(logrus.Fields{
			"page":   page,
			"pages":  resp.Pages,
			"loaded": len(resp.Users),
		}).Debug("Loaded users page")

		pages = resp.Pages
		page++
	}

	return users, nil
}

// GetUser returns an identity by id, or nil when it does not exist
func (c *Client) GetUser(ctx context.Context, id string) (*models.DirectoryUser, error) {
	var user models.DirectoryUser
	err := c.Do(ctx, Call{
		Op:     "get_user",
		Method: http.MethodGet,
		Path:   "/users/" + url.PathEscape(id),
		Result: &user,
	})
	if err != nil {
		var failure *RemoteFailure
		if errors.As(err, &failure) && failure.NotFound() {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser creates an identity and returns it with its assigned id
func (c *Client) CreateUser(ctx context.Context, req *CreateUserRequest) (*models.DirectoryUser, error) {
	var user models.DirectoryUser
	err := c.Do(ctx, Call{
		Op:     "create_user",
		Method: http.MethodPost,
		Path:   "/users",
		Body:   req,
		Result: &user,
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"nickname": req.Nickname,
		"id":       user.ID,
	}).Info("User created in directory")

	return &user, nil
}

// PatchUser applies a minimal update to an identity
func (c *Client) PatchUser(ctx context.Context, id string, patch *UserPatch) (*models.DirectoryUser, error) {
	var user models.DirectoryUser
	err := c.Do(ctx, Call{
		Op:     "patch_user",
		Method: http.MethodPatch,
		Path:   "/users/" + url.PathEscape(id),
		Body:   patch,
		Result: &user,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
