package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/matheus3301/wxm/internal/wx"
)

// Environment keys that override credential file values.
const (
	EnvBaseURL    = "WXM_BASE_URL"
	EnvSyncHost   = "WXM_SYNC_HOST"
	EnvUin        = "WXM_UIN"
	EnvSid        = "WXM_SID"
	EnvSkey       = "WXM_SKEY"
	EnvPassTicket = "WXM_PASS_TICKET"
	EnvDeviceID   = "WXM_DEVICE_ID"
	EnvCookies    = "WXM_COOKIES"
)

// LoadCredentials assembles session credentials from, in increasing
// precedence, the session TOML file, the session .env file and the process
// environment. Either file may be absent. The result is validated.
func LoadCredentials(tomlPath, envPath string) (wx.Credentials, error) {
	var creds wx.Credentials
	if _, err := toml.DecodeFile(tomlPath, &creds); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wx.Credentials{}, fmt.Errorf("read %s: %w", tomlPath, err)
	}

	dotenv, err := godotenv.Read(envPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wx.Credentials{}, fmt.Errorf("read %s: %w", envPath, err)
	}
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := overlay(&creds, lookup); err != nil {
		return wx.Credentials{}, err
	}
	if err := creds.Validate(); err != nil {
		return wx.Credentials{}, err
	}
	return creds, nil
}

// SaveCredentials writes credentials to a session TOML file readable only by the owner.
func SaveCredentials(path string, creds wx.Credentials) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(creds)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func overlay(c *wx.Credentials, lookup func(string) string) error {
	strs := map[string]*string{
		EnvBaseURL:    &c.BaseURL,
		EnvSyncHost:   &c.SyncHost,
		EnvSid:        &c.Sid,
		EnvSkey:       &c.Skey,
		EnvPassTicket: &c.PassTicket,
		EnvDeviceID:   &c.DeviceID,
		EnvCookies:    &c.Cookies,
	}
	for key, dst := range strs {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}
	if v := lookup(EnvUin); v != "" {
		uin, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUin, err)
		}
		c.Uin = uin
	}
	return nil
}
