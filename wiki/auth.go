package wiki

import (
	"context"
	"errors"

	"github.com/olgasafonova/mediawiki-api-go/metrics"
)

// Login authenticates with the wiki right away. Cached tokens are dropped and
// any postponed login is cancelled.
//
// Modern wikis hand out a login token through meta=tokens. Older ones answer
// the first login attempt with NeedToken and the token to repeat it with;
// both handshakes are supported.
func (c *Client) Login(ctx context.Context, user, password string) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.pending = nil
	return c.login(ctx, user, password)
}

// LoginOnDemand postpones login until the next call that is not itself a login.
func (c *Client) LoginOnDemand(user, password string) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.tokens.Clear()
	c.pending = &credentials{user: user, password: password}
}

// User returns the name the client last logged in with, or "" when anonymous.
func (c *Client) User() string {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	return c.loggedIn
}

// ensureLogin runs a postponed login. Concurrent callers wait for it.
func (c *Client) ensureLogin(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if c.pending == nil {
		return nil
	}
	creds := *c.pending
	if err := c.login(ctx, creds.user, creds.password); err != nil {
		return err
	}
	c.pending = nil
	return nil
}

// login performs the handshake. Callers hold loginMu; requests go through
// do so that they never re-enter ensureLogin.
func (c *Client) login(ctx context.Context, user, password string) error {
	c.tokens.Clear()
	c.transport.ResetCookies()
	c.loggedIn = ""

	raw := CallerFunc(c.do)
	token, err := fetchToken(ctx, raw, "login")
	if err != nil {
		var serverErr *ServerError
		var malformed *MalformedResponseError
		if !errors.As(err, &serverErr) && !errors.As(err, &malformed) {
			return err
		}
		c.logger.Debug("Login token unavailable, using legacy handshake", "error", err)
		token = ""
	}

	res, err := c.loginRequest(ctx, user, password, token)
	if err != nil {
		return err
	}
	if res.Str("result") == "NeedToken" {
		res, err = c.loginRequest(ctx, user, password, res.Str("token"))
		if err != nil {
			return err
		}
	}

	if result := res.Str("result"); result != "Success" {
		metrics.AuthFailures.WithLabelValues(result).Inc()
		return &AuthenticationError{
			User:    user,
			Result:  result,
			Reason:  res.Str("reason"),
			Payload: res,
		}
	}

	c.loggedIn = user
	if name := res.Str("lgusername"); name != "" {
		c.loggedIn = name
	}
	c.logger.Info("Successfully logged in", "username", c.loggedIn)
	return nil
}

func (c *Client) loginRequest(ctx context.Context, user, password, token string) (Object, error) {
	params := Params{"lgname": user, "lgpassword": password}
	if token != "" {
		params["lgtoken"] = token
	}
	encoded, err := EncodeParams("login", params)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, Request{Action: "login", Params: encoded, Post: true})
	if err != nil {
		return nil, err
	}
	res := resp.Obj("login")
	if res == nil {
		return nil, &MalformedResponseError{Action: "login", Field: "login"}
	}
	return res, nil
}

// Token returns an API token of the given type ("csrf", "watch", "patrol",
// ...), fetching it on first use. Tokens are cached until the next login and
// concurrent fetches of one type share a single request.
func (c *Client) Token(ctx context.Context, tokenType string) (string, error) {
	if tokenType == "" {
		tokenType = "csrf"
	}

	if token, ok := c.tokens.Get(tokenType); ok {
		metrics.RecordTokenLookup(true)
		return token, nil
	}
	metrics.RecordTokenLookup(false)

	token, _, err := c.tokenDedup.Do(ctx, tokenType, func() (string, error) {
		return fetchToken(ctx, c, tokenType)
	})
	if err != nil {
		return "", err
	}
	c.tokens.Set(tokenType, token)
	return token, nil
}

// fetchToken reads <type>token from the first result of a meta=tokens query.
func fetchToken(ctx context.Context, caller Caller, tokenType string) (string, error) {
	for result, err := range Iterate(ctx, caller, "query", Params{"meta": "tokens", "type": tokenType}) {
		if err != nil {
			return "", err
		}
		field := tokenType + "token"
		token := result.Str("tokens", field)
		if token == "" {
			return "", &MalformedResponseError{Action: "query", Field: "tokens." + field}
		}
		return token, nil
	}
	return "", &MalformedResponseError{Action: "query", Field: "query"}
}
