package wx

import (
	"errors"
	"testing"
)

func TestParseSyncCheck(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		want        string
		wantErr     bool
		wantSession bool
	}{
		{"nothing changed", `window.synccheck={retcode:"0",selector:"0"}`, "", false, false},
		{"new message", `window.synccheck={retcode:"0",selector:"2"}`, "2", false, false},
		{"spaced", `window.synccheck={retcode : "0", selector : "7"}`, "7", false, false},
		{"logged out", `window.synccheck={retcode:"1101",selector:"0"}`, "", true, true},
		{"kicked", `window.synccheck={retcode:"1102",selector:"0"}`, "", true, true},
		{"other retcode", `window.synccheck={retcode:"1205",selector:"0"}`, "", true, false},
		{"garbage", `<html>`, "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSyncCheck(tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrSessionInvalid) != tt.wantSession {
				t.Errorf("ErrSessionInvalid = %v, want %v", errors.Is(err, ErrSessionInvalid), tt.wantSession)
			}
			if got != tt.want {
				t.Errorf("selector = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDelta(t *testing.T) {
	body := []byte(`{
		"BaseResponse": {"Ret": 0},
		"ModContactCount": 0,
		"ModContactList": [{"UserName": "@ignored"}],
		"AddMsgCount": 1,
		"AddMsgList": [{"ToUserName": "self", "MsgType": 1, "Content": "hi", "CreateTime": 1700000000}],
		"SyncKey": {"Count": 2, "List": [{"Key": 1, "Val": 100}, {"Key": 2, "Val": 200}]}
	}`)

	d, err := ParseDelta(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.ModContacts) != 0 {
		t.Errorf("got %d mod contacts, want 0 (count is 0)", len(d.ModContacts))
	}
	if len(d.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(d.Messages))
	}
	if d.SyncKey.String() != "1_100|2_200" {
		t.Errorf("SyncKey = %q, want 1_100|2_200", d.SyncKey.String())
	}
}

func TestParseDeltaNull(t *testing.T) {
	for _, body := range []string{"", "  ", "null"} {
		d, err := ParseDelta([]byte(body))
		if err != nil || d != nil {
			t.Errorf("ParseDelta(%q) = %v, %v; want nil, nil", body, d, err)
		}
	}
}

func TestParseDeltaSessionInvalid(t *testing.T) {
	_, err := ParseDelta([]byte(`{"BaseResponse":{"Ret":1101}}`))
	if !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("err = %v, want ErrSessionInvalid", err)
	}
}

func TestParseInit(t *testing.T) {
	res, err := ParseInit([]byte(`{
		"BaseResponse": {"Ret": 0},
		"User": {"UserName": "@me", "NickName": "Me"},
		"ContactList": [{"UserName": "@@g"}, {"UserName": "@p"}],
		"SyncKey": {"Count": 1, "List": [{"Key": 1, "Val": 5}]}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.User.Get("UserName").String() != "@me" {
		t.Errorf("user = %s", res.User.Raw)
	}
	if len(res.Contacts) != 2 {
		t.Errorf("got %d contacts, want 2", len(res.Contacts))
	}
	if res.SyncKey.IsZero() {
		t.Error("SyncKey is zero")
	}
}

func TestParseInitMissingUser(t *testing.T) {
	if _, err := ParseInit([]byte(`{"BaseResponse":{"Ret":0}}`)); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("err = %v, want ErrMalformedRecord", err)
	}
}
