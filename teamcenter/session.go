package teamcenter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/santiagomed/plmgen/plm"
)

// Login authenticates once and returns the session token from the
// Set-Cookie header. A successful response without the cookie keeps the
// token from the previous login, if there is one.
func (c *Client) Login(ctx context.Context, creds plm.Credentials) (*plm.Session, error) {
	in := loginInput{Credentials: credentials{User: creds.Username, Password: creds.Password}}
	header, err := c.post(ctx, nil, sessionService, "login", in, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", plm.ErrAuth, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.extractToken(header)
	if token == "" {
		token = c.lastToken
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no %s cookie in response", plm.ErrAuth, c.cookieName)
	}
	c.lastToken = token
	c.logger.WithField("user", creds.Username).Info("Logged in")
	return &plm.Session{Token: token, Username: creds.Username}, nil
}

func (c *Client) extractToken(header http.Header) string {
	for _, v := range header.Values("Set-Cookie") {
		if m := c.cookieRe.FindStringSubmatch(v); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return ""
}
