package wx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// MaxBatchSize is the largest number of identifiers the remote accepts in one
// batch contact lookup.
const MaxBatchSize = 50

const (
	requestTimeout   = 30 * time.Second
	syncCheckTimeout = 40 * time.Second
	maxResponseSize  = 32 << 20
	maxContactPages  = 64
	statusNotifyCode = 3
)

// Credentials identify an already established web session.
type Credentials struct {
	BaseURL    string `toml:"base_url"`
	SyncHost   string `toml:"sync_host"`
	Uin        int64  `toml:"uin"`
	Sid        string `toml:"sid"`
	Skey       string `toml:"skey"`
	PassTicket string `toml:"pass_ticket"`
	DeviceID   string `toml:"device_id"`
	Cookies    string `toml:"cookies"`
}

// Validate checks that the fields every request depends on are present.
func (c Credentials) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("credentials: base_url is required")
	case c.Sid == "" || c.Skey == "":
		return fmt.Errorf("credentials: sid and skey are required")
	case c.Uin == 0:
		return fmt.Errorf("credentials: uin is required")
	}
	return nil
}

// Client talks to the web-chat endpoints over an established session.
// It is safe for concurrent use.
type Client struct {
	http     *http.Client
	creds    Credentials
	base     *url.URL
	syncBase *url.URL
	logger   *zap.Logger
	now      func() time.Time
}

// NewClient creates a client for the given session credentials.
func NewClient(creds Credentials, logger *zap.Logger) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(creds.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	syncBase := base
	if creds.SyncHost != "" {
		if syncBase, err = url.Parse(creds.SyncHost); err != nil {
			return nil, fmt.Errorf("parse sync host: %w", err)
		}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if creds.Cookies != "" {
		cookies := parseCookieHeader(creds.Cookies)
		jar.SetCookies(base, cookies)
		jar.SetCookies(syncBase, cookies)
	}
	if creds.DeviceID == "" {
		creds.DeviceID = NewDeviceID()
	}

	return &Client{
		http:     &http.Client{Jar: jar},
		creds:    creds,
		base:     base,
		syncBase: syncBase,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// NewDeviceID returns a random device identifier in the form the web client uses.
func NewDeviceID() string {
	return fmt.Sprintf("e%015d", rand.Int64N(1_000_000_000_000_000))
}

type baseRequest struct {
	Uin      int64  `json:"Uin"`
	Sid      string `json:"Sid"`
	Skey     string `json:"Skey"`
	DeviceID string `json:"DeviceID"`
}

func (c *Client) baseRequest() baseRequest {
	return baseRequest{Uin: c.creds.Uin, Sid: c.creds.Sid, Skey: c.creds.Skey, DeviceID: c.creds.DeviceID}
}

// Init bootstraps the session: current user, initial chat roster and sync key.
func (c *Client) Init(ctx context.Context) (*InitResult, error) {
	q := url.Values{}
	q.Set("r", strconv.FormatInt(-c.now().UnixMilli(), 10))
	q.Set("pass_ticket", c.creds.PassTicket)

	body, err := c.postJSON(ctx, "webwxinit", q, map[string]any{"BaseRequest": c.baseRequest()})
	if err != nil {
		return nil, err
	}
	return ParseInit(body)
}

// ProbeChange issues the lightweight change probe. It returns an empty string
// when nothing changed since key.
func (c *Client) ProbeChange(ctx context.Context, key SyncKey) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, syncCheckTimeout)
	defer cancel()

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	q := url.Values{}
	q.Set("r", ts)
	q.Set("skey", c.creds.Skey)
	q.Set("sid", c.creds.Sid)
	q.Set("uin", strconv.FormatInt(c.creds.Uin, 10))
	q.Set("deviceid", c.creds.DeviceID)
	q.Set("synckey", key.String())
	q.Set("_", ts)

	body, err := c.do(ctx, http.MethodGet, c.syncBase.JoinPath("synccheck"), q, nil)
	if err != nil {
		return "", err
	}
	return ParseSyncCheck(string(body))
}

// FetchDelta fetches everything that changed since key.
func (c *Client) FetchDelta(ctx context.Context, key SyncKey) (*Delta, error) {
	q := url.Values{}
	q.Set("sid", c.creds.Sid)
	q.Set("skey", c.creds.Skey)
	q.Set("pass_ticket", c.creds.PassTicket)

	body, err := c.postJSON(ctx, "webwxsync", q, map[string]any{
		"BaseRequest": c.baseRequest(),
		"SyncKey":     key,
		"rr":          ^c.now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	return ParseDelta(body)
}

// BatchGetContacts resolves up to MaxBatchSize identifiers in one call.
func (c *Client) BatchGetContacts(ctx context.Context, ids []string) ([]gjson.Result, error) {
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d identifiers exceeds limit %d", len(ids), MaxBatchSize)
	}
	type item struct {
		UserName        string `json:"UserName"`
		EncryChatRoomID string `json:"EncryChatRoomId"`
	}
	list := make([]item, 0, len(ids))
	for _, id := range ids {
		list = append(list, item{UserName: id})
	}

	q := url.Values{}
	q.Set("type", "ex")
	q.Set("r", strconv.FormatInt(c.now().UnixMilli(), 10))
	q.Set("pass_ticket", c.creds.PassTicket)

	body, err := c.postJSON(ctx, "webwxbatchgetcontact", q, map[string]any{
		"BaseRequest": c.baseRequest(),
		"Count":       len(list),
		"List":        list,
	})
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if err := checkBaseResponse(doc); err != nil {
		return nil, fmt.Errorf("batch get contact: %w", err)
	}
	return doc.Get("ContactList").Array(), nil
}

// GetAllContacts fetches the full contact directory, following the Seq
// continuation until the remote reports the last page.
func (c *Client) GetAllContacts(ctx context.Context) ([]gjson.Result, error) {
	var all []gjson.Result
	var seq int64
	for page := 0; page < maxContactPages; page++ {
		q := url.Values{}
		q.Set("pass_ticket", c.creds.PassTicket)
		q.Set("r", strconv.FormatInt(c.now().UnixMilli(), 10))
		q.Set("seq", strconv.FormatInt(seq, 10))
		q.Set("skey", c.creds.Skey)

		body, err := c.do(ctx, http.MethodGet, c.base.JoinPath("webwxgetcontact"), q, nil)
		if err != nil {
			return nil, err
		}
		doc, err := parseDocument(body)
		if err != nil {
			return nil, err
		}
		if err := checkBaseResponse(doc); err != nil {
			return nil, fmt.Errorf("get contact: %w", err)
		}
		all = append(all, doc.Get("MemberList").Array()...)

		seq = doc.Get("Seq").Int()
		if seq == 0 {
			return all, nil
		}
	}
	c.logger.Warn("contact directory paging stopped early", zap.Int("pages", maxContactPages), zap.Int("contacts", len(all)))
	return all, nil
}

// NotifyPresence tells the remote this client is active.
func (c *Client) NotifyPresence(ctx context.Context, userID string) error {
	q := url.Values{}
	q.Set("lang", "zh_CN")
	q.Set("pass_ticket", c.creds.PassTicket)

	body, err := c.postJSON(ctx, "webwxstatusnotify", q, map[string]any{
		"BaseRequest":  c.baseRequest(),
		"Code":         statusNotifyCode,
		"FromUserName": userID,
		"ToUserName":   userID,
		"ClientMsgId":  c.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	doc, err := parseDocument(body)
	if err != nil {
		return err
	}
	return checkBaseResponse(doc)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, q url.Values, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, c.base.JoinPath(endpoint), q, data)
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, q url.Values, payload []byte) ([]byte, error) {
	target := *u
	target.RawQuery = q.Encode()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", u.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, u.Path, resp.StatusCode)
	}
	return data, nil
}

func parseCookieHeader(raw string) []*http.Cookie {
	req := http.Request{Header: http.Header{"Cookie": {raw}}}
	return req.Cookies()
}
