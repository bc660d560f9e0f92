// Package auth logs in to the source site's single sign-on service.
//
// The SSO login is a challenge/response exchange: a pre-login call returns a
// one-time RSA key and nonce, the password is encrypted with them, and the
// login response is followed through two script redirects that set the
// session cookies on the shared HTTP client.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"weibo_feed/internal/httpclient"
)

// Default SSO endpoints.
const (
	DefaultPreloginURL = "https://login.sina.com.cn/sso/prelogin.php"
	DefaultLoginURL    = "https://login.sina.com.cn/sso/login.php"
	DefaultLandingURL  = "https://www.weibo.com/"
)

const (
	preloginCallback = "sinaSSOController.preloginCallBack"
	publicExponent   = 0x10001
)

var (
	// ErrPrelogin is returned when the pre-login response is malformed.
	ErrPrelogin = errors.New("invalid prelogin response")
	// ErrRedirect is returned when a login redirect cannot be found.
	ErrRedirect = errors.New("login redirect not found")
)

var (
	jsonpRe          = regexp.MustCompile(`(?s)\((.*)\)\s*;?\s*$`)
	loginRedirectRe  = regexp.MustCompile(`location\.replace\("(.*?)"\);`)
	ticketRedirectRe = regexp.MustCompile(`location\.replace\('(.*?)'\);`)
)

// HTTPClient is the subset of httpclient.Client used by the authenticator.
type HTTPClient interface {
	Get(ctx context.Context, rawURL string, opts ...httpclient.Option) (*httpclient.Response, error)
	Post(ctx context.Context, rawURL string, opts ...httpclient.Option) (*httpclient.Response, error)
}

// Credentials identify the account used to log in.
type Credentials struct {
	Username string
	Password string
}

// Authenticator establishes an authenticated session on its HTTP client.
type Authenticator struct {
	client      HTTPClient
	creds       Credentials
	log         *slog.Logger
	PreloginURL string
	LoginURL    string
	LandingURL  string
}

// New creates an Authenticator using the default SSO endpoints.
func New(client HTTPClient, creds Credentials, log *slog.Logger) *Authenticator {
	return &Authenticator{
		client:      client,
		creds:       creds,
		log:         log,
		PreloginURL: DefaultPreloginURL,
		LoginURL:    DefaultLoginURL,
		LandingURL:  DefaultLandingURL,
	}
}

// Prelogin holds the one-time challenge issued by the SSO service.
type Prelogin struct {
	ServerTime json.Number `json:"servertime"`
	Nonce      string      `json:"nonce"`
	PubKey     string      `json:"pubkey"`
	RSAKV      string      `json:"rsakv"`
}

// Login runs the full challenge/response exchange. Session state ends up in
// the HTTP client's cookie jar.
func (a *Authenticator) Login(ctx context.Context) error {
	a.log.Info("logging in", "username", a.creds.Username)

	pre, err := a.prelogin(ctx)
	if err != nil {
		return err
	}

	form, err := LoginForm(pre, a.creds, a.LandingURL)
	if err != nil {
		return err
	}

	resp, err := a.client.Post(ctx, a.LoginURL, httpclient.WithForm(form))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	next, err := findRedirect(loginRedirectRe, resp.Text())
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	resp, err = a.client.Get(ctx, next)
	if err != nil {
		return fmt.Errorf("follow login redirect: %w", err)
	}
	next, err = findRedirect(ticketRedirectRe, resp.Text())
	if err != nil {
		return fmt.Errorf("follow login redirect: %w", err)
	}

	if _, err := a.client.Get(ctx, next); err != nil {
		return fmt.Errorf("follow ticket redirect: %w", err)
	}

	a.log.Debug("login complete")
	return nil
}

func (a *Authenticator) prelogin(ctx context.Context) (*Prelogin, error) {
	query := url.Values{
		"entry":    {"sso"},
		"callback": {preloginCallback},
		"su":       {url.QueryEscape(a.creds.Username)},
		"rsakt":    {"mod"},
	}
	resp, err := a.client.Get(ctx, a.PreloginURL, httpclient.WithQuery(query))
	if err != nil {
		return nil, fmt.Errorf("prelogin: %w", err)
	}
	return ParsePrelogin(resp.Text())
}

// ParsePrelogin strips the JSONP callback wrapper and validates that every
// challenge field is present.
func ParsePrelogin(body string) (*Prelogin, error) {
	m := jsonpRe.FindStringSubmatch(strings.TrimSpace(body))
	if m == nil {
		return nil, fmt.Errorf("%w: no callback payload", ErrPrelogin)
	}

	var pre Prelogin
	if err := json.Unmarshal([]byte(m[1]), &pre); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrelogin, err)
	}

	switch {
	case pre.PubKey == "":
		return nil, fmt.Errorf("%w: missing pubkey", ErrPrelogin)
	case pre.ServerTime == "":
		return nil, fmt.Errorf("%w: missing servertime", ErrPrelogin)
	case pre.Nonce == "":
		return nil, fmt.Errorf("%w: missing nonce", ErrPrelogin)
	case pre.RSAKV == "":
		return nil, fmt.Errorf("%w: missing rsakv", ErrPrelogin)
	}
	return &pre, nil
}

// LoginForm builds the login form, encrypting the password against the
// challenge.
func LoginForm(pre *Prelogin, creds Credentials, landingURL string) (url.Values, error) {
	sp, err := EncryptPassword(pre, creds.Password)
	if err != nil {
		return nil, err
	}
	return url.Values{
		"servertime": {pre.ServerTime.String()},
		"nonce":      {pre.Nonce},
		"rsakv":      {pre.RSAKV},
		"su":         {EncodeUsername(creds.Username)},
		"sp":         {sp},
		"pwencode":   {"rsa2"},
		"url":        {landingURL},
	}, nil
}

// EncodeUsername returns base64 of the percent-encoded username.
func EncodeUsername(username string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(username), "+", "%20")
	return base64.StdEncoding.EncodeToString([]byte(escaped))
}

// EncryptPassword encrypts "servertime\tnonce\npassword" with the challenge
// key (PKCS #1 v1.5) and returns the hex encoded ciphertext.
func EncryptPassword(pre *Prelogin, password string) (string, error) {
	n, ok := new(big.Int).SetString(pre.PubKey, 16)
	if !ok {
		return "", fmt.Errorf("%w: pubkey is not hex", ErrPrelogin)
	}
	pub := &rsa.PublicKey{N: n, E: publicExponent}

	msg := pre.ServerTime.String() + "\t" + pre.Nonce + "\n" + password
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(msg))
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	return hex.EncodeToString(ct), nil
}

func findRedirect(re *regexp.Regexp, body string) (string, error) {
	m := re.FindStringSubmatch(body)
	if m == nil || m[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrRedirect, truncate(body, 200))
	}
	return m[1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
