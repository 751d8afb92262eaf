package ssh

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
)

// Credential is one named login.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Credentials maps credential keys used in command specs to logins. The file
// form is {"version": "1.0", "data": {"key": {"username": .., "password": ..}}}
// and may carry comments.
type Credentials struct {
	Version string                `json:"version"`
	Data    map[string]Credential `json:"data"`
}

// LoadCredentials reads a credentials file.
func LoadCredentials(path string) (Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(jsonc.ToJSON(raw), &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return creds, nil
}

// Lookup finds key case-insensitively.
func (c Credentials) Lookup(key string) (Credential, bool) {
	if cred, ok := c.Data[key]; ok {
		return cred, true
	}
	for k, cred := range c.Data {
		if strings.EqualFold(k, key) {
			return cred, true
		}
	}
	return Credential{}, false
}
