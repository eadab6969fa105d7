package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/devplatform/directory-sync/internal/models"
	"github.com/sirupsen/logrus"
)

type departmentsPage struct {
	Departments []models.Department `json:"departments"`
	Page        int                 `json:"page"`
	Pages       int                 `json:"pages"`
	PerPage     int                 `json:"perPage"`
	Total       int                 `json:"total"`
}

// ListDepartments fetches every department including the root
func (c *Client) ListDepartments(ctx context.Context) ([]models.Department, error) {
	var departments []models.Department
	page, pages := 1, 1

	for page <= pages {
		var resp departmentsPage
		err := c.Do(ctx, Call{
			Op:     "list_departments",
			Method: http.MethodGet,
			Path:   "/departments",
			Query: url.Values{
				"page":    {strconv.Itoa(page)},
				"perPage": {strconv.Itoa(c.opts.DepartmentsPerPage)},
			},
			Result: &resp,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list departments (page %d): %w", page, err)
		}
		departments = append(departments, resp.Departments...)
		pages = resp.Pages
		page++
	}

	return departments, nil
}

// CreateDepartment creates a department under parentID
func (c *Client) CreateDepartment(ctx context.Context, name string, parentID int64) (*models.Department, error) {
	var dep models.Department
	err := c.Do(ctx, Call{
		Op:     "create_department",
		Method: http.MethodPost,
		Path:   "/departments",
		Body: map[string]interface{}{
			"name":     name,
			"parentId": parentID,
		},
		Result: &dep,
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"name":     name,
		"parentId": parentID,
		"id":       dep.ID,
	}).Info("Department created in directory")

	return &dep, nil
}

// DeleteDepartment removes a department
func (c *Client) DeleteDepartment(ctx context.Context, id int64) error {
	return c.Do(ctx, Call{
		Op:     "delete_department",
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/departments/%d", id),
	})
}
