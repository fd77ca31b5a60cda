package external

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/net/publicsuffix"

	"rollcall/internal/types"
)

const (
	// browserUserAgent is sent to Moodle and the identity provider, which
	// serve degraded pages to unknown agents.
	browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

	defaultPageTimeout = 30 * time.Second
	maxPageBody        = 5 << 20
	// maxAutoPosts bounds the chain of self-submitting relay pages followed
	// after login.
	maxAutoPosts = 3

	idpSelectID       = "idp"
	usernameInputID   = "username"
	passwordInputID   = "password"
	loginErrorPanelID = "loginErrorsPanel"
)

// MoodleConfig holds the configuration for creating a MoodleSubmitter.
type MoodleConfig struct {
	BaseURL        string
	AttendancePath string
	IdPName        string
	Username       string
	Password       types.SecretString
	Locale         types.Locale
	// PageTimeout bounds each page load. Defaults to 30s.
	PageTimeout time.Duration
	// Snapshots stores failure pages when non-nil.
	Snapshots *SnapshotStore
	// Transport overrides the HTTP transport, for tests.
	Transport http.RoundTripper
	Location  *time.Location
	Logger    *slog.Logger
}

// MoodleSubmitter submits attendance on the university Moodle: it selects
// the identity provider, logs in, follows the attendance link of the
// configured course page and checks the confirmation text. It implements
// types.Submitter.
type MoodleSubmitter struct {
	baseURL       *url.URL
	attendanceURL string
	idpName       string
	username      string
	password      types.SecretString
	msgs          types.Messages
	pageTimeout   time.Duration
	snapshots     *SnapshotStore
	transport     http.RoundTripper
	loc           *time.Location
	logger        *slog.Logger

	breaker *gobreaker.CircuitBreaker[*http.Response]
	opts    []BaseClientOption
}

var _ types.Submitter = (*MoodleSubmitter)(nil)

// NewMoodleSubmitter creates a MoodleSubmitter.
func NewMoodleSubmitter(cfg MoodleConfig, opts ...BaseClientOption) (*MoodleSubmitter, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("moodle: invalid base URL %q", cfg.BaseURL)
	}
	attendance, err := base.Parse(cfg.AttendancePath)
	if err != nil {
		return nil, fmt.Errorf("moodle: invalid attendance path %q: %w", cfg.AttendancePath, err)
	}

	pageTimeout := cfg.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = defaultPageTimeout
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MoodleSubmitter{
		baseURL:       base,
		attendanceURL: attendance.String(),
		idpName:       cfg.IdPName,
		username:      cfg.Username,
		password:      cfg.Password,
		msgs:          types.MessagesFor(cfg.Locale),
		pageTimeout:   pageTimeout,
		snapshots:     cfg.Snapshots,
		transport:     cfg.Transport,
		loc:           loc,
		logger:        logger,
		breaker:       NewBreaker("moodle"),
		opts:          opts,
	}, nil
}

// Submit runs one complete attendance submission for s in a fresh cookie
// session. Identity provider problems and rejected credentials are fatal
// errors; everything else is ErrCodeSubmissionFailed.
func (m *MoodleSubmitter) Submit(ctx context.Context, s types.Session) error {
	b, err := m.newBrowser()
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create cookie jar", err)
	}

	home, err := b.get(ctx, m.baseURL.String())
	if err != nil {
		return err
	}
	if _, err := m.login(ctx, b, home); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "login succeeded", types.LogAttrs(ctx)...)

	return m.submitAttendance(ctx, b, s)
}

func (m *MoodleSubmitter) newBrowser() (*browser, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Jar:       jar,
		Timeout:   m.pageTimeout,
		Transport: m.transport,
	}
	base := NewBaseClientWithBreaker(
		client,
		m.breaker,
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    2 * time.Second,
			MaxWait:    10 * time.Second,
		},
		browserUserAgent,
		m.opts...,
	)
	return &browser{base: base}, nil
}

// login walks the identity provider selection and the login form, and
// returns the first page after authentication.
func (m *MoodleSubmitter) login(ctx context.Context, b *browser, home *page) (*page, error) {
	sel := home.byID(idpSelectID)
	if sel == nil {
		m.diagnose(ctx, "idp-selection", home)
		return nil, types.NewAppError(types.ErrCodeAuthIdPSelection, "identity provider selector not found", nil)
	}
	value, ok := optionByText(sel, m.idpName)
	formNode := enclosingForm(sel)
	if !ok || formNode == nil {
		m.diagnose(ctx, "idp-selection", home)
		return nil, types.NewAppError(types.ErrCodeAuthIdPSelection,
			fmt.Sprintf("identity provider %q is not offered", m.idpName), nil)
	}
	idpForm := home.formOf(formNode)
	idpForm.fields.Set(attr(sel, "name"), value)

	loginPage, err := b.submit(ctx, idpForm)
	if err != nil {
		return nil, err
	}

	user := loginPage.byID(usernameInputID)
	pass := loginPage.byID(passwordInputID)
	if user == nil || pass == nil || enclosingForm(user) == nil {
		m.diagnose(ctx, "login-form", loginPage)
		return nil, types.NewAppError(types.ErrCodeAuthIdPSelection,
			"login form not found after identity provider selection", nil)
	}
	loginForm := loginPage.formOf(enclosingForm(user))
	loginForm.fields.Set(attr(user, "name"), m.username)
	loginForm.fields.Set(attr(pass, "name"), m.password.Unmask())

	landing, err := b.submit(ctx, loginForm)
	if err != nil {
		return nil, err
	}
	if landing.byID(loginErrorPanelID) != nil {
		m.diagnose(ctx, "login-rejected", landing)
		return nil, types.NewAppError(types.ErrCodeAuthLoginRejected,
			"login rejected; check USERNAME and PASSWORD", nil)
	}

	for i := 0; i < maxAutoPosts; i++ {
		relay, ok := landing.autoPostForm()
		if !ok {
			break
		}
		if landing, err = b.submit(ctx, relay); err != nil {
			return nil, err
		}
	}
	return landing, nil
}

func (m *MoodleSubmitter) submitAttendance(ctx context.Context, b *browser, s types.Session) error {
	label := s.Label(m.loc)

	course, err := b.get(ctx, m.attendanceURL)
	if err != nil {
		return err
	}
	href, ok := course.linkByText(m.msgs.AttendanceLinkText)
	if !ok {
		return m.fail(ctx, label, course, "attendance link not found")
	}

	result, err := b.get(ctx, href)
	if err != nil {
		return err
	}
	if !result.containsText(m.msgs.AttendanceRecordedText) {
		return m.fail(ctx, label, result, "attendance confirmation not found")
	}
	return nil
}

func (m *MoodleSubmitter) fail(ctx context.Context, label string, p *page, reason string) error {
	appErr := types.NewAppError(types.ErrCodeSubmissionFailed, reason, nil)
	if path := m.diagnose(ctx, label, p); path != "" {
		appErr = appErr.WithDetails(map[string]any{"snapshot": path})
	}
	return appErr
}

// diagnose logs the page at debug level and saves a snapshot when a store
// is configured. It returns the snapshot path, if any.
func (m *MoodleSubmitter) diagnose(ctx context.Context, label string, p *page) string {
	attrs := append(types.LogAttrs(ctx), "page", p.url.String())
	m.logger.DebugContext(ctx, "page content", append(attrs, "body", string(p.body))...)

	if m.snapshots == nil {
		return ""
	}
	path, err := m.snapshots.Save(label, p.body)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to save page snapshot", append(attrs, "error", err)...)
		return ""
	}
	m.logger.InfoContext(ctx, "saved page snapshot", append(attrs, "snapshot", path)...)
	return path
}

// browser is one cookie session against Moodle and the identity provider.
type browser struct {
	base *BaseClient
}

func (b *browser) get(ctx context.Context, rawURL string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeSubmissionFailed, "invalid page URL", err)
	}
	return b.load(req)
}

func (b *browser) submit(ctx context.Context, f htmlForm) (*page, error) {
	var req *http.Request
	var err error
	if f.method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, f.action, strings.NewReader(f.fields.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		var u *url.URL
		if u, err = url.Parse(f.action); err == nil {
			u.RawQuery = f.fields.Encode()
			req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		}
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeSubmissionFailed, "invalid form action", err)
	}
	return b.load(req)
}

func (b *browser) load(req *http.Request) (*page, error) {
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := b.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeSubmissionFailed,
			fmt.Sprintf("loading %s failed", req.URL.Redacted()), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeSubmissionFailed, "reading page failed", err)
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewAppError(types.ErrCodeSubmissionFailed,
			fmt.Sprintf("%s returned %d", req.URL.Redacted(), resp.StatusCode), nil)
	}

	p, err := parsePage(resp.Request.URL, body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeSubmissionFailed, "parsing page failed", err)
	}
	return p, nil
}
