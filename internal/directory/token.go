package directory

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// TokenInfo describes what the configured credential may do
type TokenInfo struct {
	Login  string
	OrgIDs []string
	Scopes []string
}

// HasScope reports whether the token carries a scope
func (t *TokenInfo) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CheckToken introspects the credential once and verifies organization and scopes
func (c *Client) CheckToken(ctx context.Context, orgID string, requiredScopes []string) (*TokenInfo, error) {
	var raw []byte
	err := c.Do(ctx, Call{
		Op:     "check_token",
		Method: http.MethodGet,
		Path:   c.opts.TokenInfoURL,
		Result: &raw,
	})
	if err != nil {
		return nil, err
	}

	info := &TokenInfo{Login: gjson.GetBytes(raw, "login").String()}
	for _, v := range gjson.GetBytes(raw, "orgIds").Array() {
		info.OrgIDs = append(info.OrgIDs, v.String())
	}
	for _, v := range gjson.GetBytes(raw, "scopes").Array() {
		info.Scopes = append(info.Scopes, v.String())
	}

	boundToOrg := false
	for _, id := range info.OrgIDs {
		if id == orgID {
			boundToOrg = true
			break
		}
	}
	if !boundToOrg {
		return info, &RemoteAuthError{Status: http.StatusForbidden, Body: fmt.Sprintf("token is not issued for organization %s", orgID)}
	}

	var missing []string
	for _, scope := range requiredScopes {
		scope = strings.TrimSpace(scope)
		if scope != "" && !info.HasScope(scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) > 0 {
		return info, &RemoteAuthError{Status: http.StatusForbidden, Body: "token lacks scopes: " + strings.Join(missing, ", ")}
	}

	c.logger.WithFields(logrus.Fields{
		"login":  info.Login,
		"scopes": len(info.Scopes),
	}).Info("OAuth token verified")

	return info, nil
}
