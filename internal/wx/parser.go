package wx

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/matheus3301/wxm/internal/store"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Message types used by the engine.
const (
	MsgTypeText         = 1
	MsgTypeStatusNotify = 51
)

const (
	statusNotifySyncConv = 4
	contactFlagMuted     = 0x200
	groupPrefix          = "@@"
	otherBucket          = "#"
)

// IsGroupID reports whether the identifier names a group chat.
func IsGroupID(id string) bool {
	return strings.HasPrefix(id, groupPrefix)
}

// AvatarURL derives the avatar reference for an identifier, relative to the
// session base URL.
func AvatarURL(id string) string {
	endpoint := "webwxgeticon"
	if IsGroupID(id) {
		endpoint = "webwxgetheadimg"
	}
	return "/cgi-bin/mmwebwx-bin/" + endpoint + "?username=" + url.QueryEscape(id)
}

// ParseContact normalizes a raw contact record. Only UserName is required;
// every other field falls back to its zero value.
func ParseContact(raw gjson.Result) (store.Contact, error) {
	if !raw.IsObject() {
		return store.Contact{}, fmt.Errorf("%w: contact is not an object", ErrMalformedRecord)
	}
	id := raw.Get("UserName").String()
	if id == "" {
		return store.Contact{}, fmt.Errorf("%w: contact without UserName", ErrMalformedRecord)
	}

	c := store.Contact{
		ID:          id,
		DisplayName: raw.Get("NickName").String(),
		RemarkName:  raw.Get("RemarkName").String(),
		Signature:   raw.Get("Signature").String(),
		AvatarURL:   AvatarURL(id),
		IsGroup:     IsGroupID(id),
		MemberCount: int(raw.Get("MemberCount").Int()),
	}
	raw.Get("MemberList").ForEach(func(_, m gjson.Result) bool {
		if m.IsObject() {
			c.Members = append(c.Members, store.Member{
				ID:          m.Get("UserName").String(),
				NickName:    m.Get("NickName").String(),
				DisplayName: m.Get("DisplayName").String(),
			})
		}
		return true
	})
	if c.MemberCount == 0 {
		c.MemberCount = len(c.Members)
	}
	if c.DisplayName == "" && len(c.Members) > 0 {
		c.DisplayName = joinMemberNames(c.Members)
	}
	c.Muted = isMuted(raw, c.IsGroup)
	c.SortKey = sortKey(c.DisplayName, raw.Get("PYInitial").String())
	return c, nil
}

// ParseMessage normalizes a raw message record. ToUserName and MsgType are
// required. selfID is the current user's identifier.
func ParseMessage(raw gjson.Result, selfID string) (store.Message, error) {
	if !raw.IsObject() {
		return store.Message{}, fmt.Errorf("%w: message is not an object", ErrMalformedRecord)
	}
	to := raw.Get("ToUserName").String()
	msgType := raw.Get("MsgType")
	if to == "" || !msgType.Exists() {
		return store.Message{}, fmt.Errorf("%w: message without ToUserName or MsgType", ErrMalformedRecord)
	}

	created := time.Unix(raw.Get("CreateTime").Int(), 0).Local()
	m := store.Message{
		ID:         raw.Get("MsgId").String(),
		FromID:     raw.Get("FromUserName").String(),
		ToID:       to,
		Type:       int(msgType.Int()),
		Content:    raw.Get("Content").String(),
		CreatedAt:  created,
		ShortTime:  created.Format("15:04"),
		IsIncoming: to == selfID,
	}
	if m.Type == MsgTypeStatusNotify && raw.Get("StatusNotifyCode").Int() == statusNotifySyncConv {
		m.NotifyUserNames = raw.Get("StatusNotifyUserName").String()
		m.LoadMore = m.NotifyUserNames != ""
	}
	return m, nil
}

// joinMemberNames lists every member's nickname in roster order. Group
// aliases are not used and members without a nickname keep their slot.
func joinMemberNames(members []store.Member) string {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.NickName
	}
	return strings.Join(names, ",")
}

// Groups carry their notification switch in Statues; people in ContactFlag.
func isMuted(raw gjson.Result, group bool) bool {
	if group {
		if st := raw.Get("Statues"); st.Exists() {
			return st.Int() == 0
		}
	}
	return raw.Get("ContactFlag").Int()&contactFlagMuted != 0
}

// sortKey buckets a contact by the first Latin letter of its name, falling
// back to the server-provided pinyin initials and finally to "#".
func sortKey(name, pinyin string) string {
	if b := bucket(name); b != "" {
		return b
	}
	if b := bucket(pinyin); b != "" {
		return b
	}
	return otherBucket
}

func bucket(s string) string {
	s = norm.NFKD.String(width.Fold.String(strings.TrimSpace(s)))
	for _, r := range s {
		r = unicode.ToUpper(r)
		if r >= 'A' && r <= 'Z' {
			return string(r)
		}
		return ""
	}
	return ""
}
