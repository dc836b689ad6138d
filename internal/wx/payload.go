package wx

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// SyncKey is the continuation cursor exchanged with the remote on every poll.
// The engine treats it as opaque and only replaces it with the value returned
// by the latest successful delta fetch.
type SyncKey struct {
	Count int           `json:"Count"`
	List  []SyncKeyItem `json:"List"`
}

// SyncKeyItem is one component of a SyncKey.
type SyncKeyItem struct {
	Key int   `json:"Key"`
	Val int64 `json:"Val"`
}

// IsZero reports whether the key carries no components.
func (k SyncKey) IsZero() bool {
	return len(k.List) == 0
}

// String renders the key in the pipe-delimited form the synccheck endpoint expects.
func (k SyncKey) String() string {
	parts := make([]string, 0, len(k.List))
	for _, item := range k.List {
		parts = append(parts, strconv.Itoa(item.Key)+"_"+strconv.FormatInt(item.Val, 10))
	}
	return strings.Join(parts, "|")
}

func parseSyncKey(r gjson.Result) SyncKey {
	var key SyncKey
	r.Get("List").ForEach(func(_, item gjson.Result) bool {
		key.List = append(key.List, SyncKeyItem{
			Key: int(item.Get("Key").Int()),
			Val: item.Get("Val").Int(),
		})
		return true
	})
	key.Count = len(key.List)
	return key
}

// InitResult is the bootstrap payload: the current user and the initial chat roster.
type InitResult struct {
	User     gjson.Result
	Contacts []gjson.Result
	SyncKey  SyncKey
}

// Delta is the incremental payload returned by a sync call.
type Delta struct {
	ModContacts []gjson.Result
	Messages    []gjson.Result
	SyncKey     SyncKey
}

// Empty reports whether the delta carries no contact or message changes.
func (d *Delta) Empty() bool {
	return len(d.ModContacts) == 0 && len(d.Messages) == 0
}

// ParseInit decodes a webwxinit response body.
func ParseInit(body []byte) (*InitResult, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if err := checkBaseResponse(doc); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	user := doc.Get("User")
	if !user.IsObject() {
		return nil, fmt.Errorf("init: %w: missing User", ErrMalformedRecord)
	}
	return &InitResult{
		User:     user,
		Contacts: doc.Get("ContactList").Array(),
		SyncKey:  parseSyncKey(doc.Get("SyncKey")),
	}, nil
}

// ParseDelta decodes a webwxsync response body. An empty or null body yields a
// nil delta and no error.
func ParseDelta(body []byte) (*Delta, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	doc, err := parseDocument(trimmed)
	if err != nil {
		return nil, err
	}
	if err := checkBaseResponse(doc); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	d := &Delta{SyncKey: parseSyncKey(doc.Get("SyncKey"))}
	if n := doc.Get("ModContactCount"); n.Exists() && n.Int() != 0 {
		d.ModContacts = doc.Get("ModContactList").Array()
	}
	if n := doc.Get("AddMsgCount"); n.Exists() && n.Int() != 0 {
		d.Messages = doc.Get("AddMsgList").Array()
	}
	return d, nil
}

var syncCheckRegexp = regexp.MustCompile(`retcode\s*:\s*"(\d+)"\s*,\s*selector\s*:\s*"(\d+)"`)

// ParseSyncCheck extracts the selector from a synccheck response such as
// `window.synccheck={retcode:"0",selector:"2"}`. It returns an empty string
// when nothing changed. The selector value is not interpreted further.
func ParseSyncCheck(body string) (string, error) {
	m := syncCheckRegexp.FindStringSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("unexpected synccheck response %q", truncate(body, 64))
	}
	ret, _ := strconv.ParseInt(m[1], 10, 64)
	switch {
	case ret == 0:
	case isSessionRet(ret):
		return "", fmt.Errorf("%w: synccheck retcode %d", ErrSessionInvalid, ret)
	default:
		return "", fmt.Errorf("synccheck retcode %d", ret)
	}
	if m[2] == "0" {
		return "", nil
	}
	return m[2], nil
}

func parseDocument(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid JSON response %q", truncate(string(body), 64))
	}
	return gjson.ParseBytes(body), nil
}

func checkBaseResponse(doc gjson.Result) error {
	ret := doc.Get("BaseResponse.Ret").Int()
	switch {
	case ret == 0:
		return nil
	case isSessionRet(ret):
		return fmt.Errorf("%w: ret %d", ErrSessionInvalid, ret)
	}
	return fmt.Errorf("remote error ret=%d msg=%q", ret, doc.Get("BaseResponse.ErrMsg").String())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
