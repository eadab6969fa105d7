package directory

import (
	"context"
	"net/http"
	"net/url"
)

// AddAlias registers an additional login for an identity
func (c *Client) AddAlias(ctx context.Context, userID, alias string) error {
	return c.Do(ctx, Call{
		Op:     "add_alias",
		Method: http.MethodPost,
		Path:   "/users/" + url.PathEscape(userID) + "/aliases",
		Body:   map[string]string{"alias": alias},
	})
}

// RemoveAlias drops an alias from an identity
func (c *Client) RemoveAlias(ctx context.Context, userID, alias string) error {
	return c.Do(ctx, Call{
		Op:     "remove_alias",
		Method: http.MethodDelete,
		Path:   "/users/" + url.PathEscape(userID) + "/aliases/" + url.PathEscape(alias),
	})
}
