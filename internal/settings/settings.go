// Package settings parses and validates the client settings document a
// backend serves at <backend>/<prefix>/clientSettings.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultPrefix             = "rps"
	DefaultAccessNumberDigits = 7
)

var ErrMissingField = errors.New("client settings field missing")

// ClientSettings is the validated form of the backend's settings document.
// URL fields are absolute after Parse.
type ClientSettings struct {
	RegisterURL           string
	SignatureURL          string
	CertivoxURL           string
	TimePermitsURL        string
	TimePermitsStorageURL string
	AppID                 string
	MPinAuthServerURL     string
	AuthenticateURL       string
	MobileAuthenticateURL string
	CodeStatusURL         string

	UsePermits              bool
	AccessNumberDigits      int
	AccessNumberUseCheckSum bool
	CheckSumScheme          int

	params map[string]string
}

type document struct {
	RegisterURL             string `json:"registerURL"`
	SignatureURL            string `json:"signatureURL"`
	CertivoxURL             string `json:"certivoxURL"`
	TimePermitsURL          string `json:"timePermitsURL"`
	TimePermitsStorageURL   string `json:"timePermitsStorageURL"`
	AppID                   string `json:"appID"`
	MPinAuthServerURL       string `json:"mpinAuthServerURL"`
	AuthenticateURL         string `json:"authenticateURL"`
	MobileAuthenticateURL   string `json:"mobileAuthenticateURL"`
	CodeStatusURL           string `json:"codeStatusURL"`
	UsePermits              *bool  `json:"usePermits"`
	AccessNumberDigits      *int   `json:"accessNumberDigits"`
	AccessNumberUseCheckSum *bool  `json:"accessNumberUseCheckSum"`
	CSum                    *int   `json:"cSum"`
}

// Parse decodes body, rewrites relative and websocket URLs against backend
// and applies defaults. backend must not carry a trailing slash.
func Parse(body []byte, backend string) (ClientSettings, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return ClientSettings{}, fmt.Errorf("decode client settings: %w", err)
	}
	if raw == nil {
		return ClientSettings{}, errors.New("client settings document is not an object")
	}

	params := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			v = RewriteURL(s, backend)
			raw[k] = v
		}
		params[k] = paramString(v)
	}

	rewritten, err := json.Marshal(raw)
	if err != nil {
		return ClientSettings{}, fmt.Errorf("encode client settings: %w", err)
	}
	var doc document
	if err := json.Unmarshal(rewritten, &doc); err != nil {
		return ClientSettings{}, fmt.Errorf("decode client settings: %w", err)
	}

	cs := ClientSettings{
		RegisterURL:             doc.RegisterURL,
		SignatureURL:            doc.SignatureURL,
		CertivoxURL:             doc.CertivoxURL,
		TimePermitsURL:          doc.TimePermitsURL,
		TimePermitsStorageURL:   doc.TimePermitsStorageURL,
		AppID:                   doc.AppID,
		MPinAuthServerURL:       doc.MPinAuthServerURL,
		AuthenticateURL:         doc.AuthenticateURL,
		MobileAuthenticateURL:   doc.MobileAuthenticateURL,
		CodeStatusURL:           doc.CodeStatusURL,
		UsePermits:              true,
		AccessNumberDigits:      DefaultAccessNumberDigits,
		AccessNumberUseCheckSum: true,
		params:                  params,
	}
	if doc.UsePermits != nil {
		cs.UsePermits = *doc.UsePermits
	}
	if doc.AccessNumberDigits != nil {
		cs.AccessNumberDigits = *doc.AccessNumberDigits
	}
	if doc.AccessNumberUseCheckSum != nil {
		cs.AccessNumberUseCheckSum = *doc.AccessNumberUseCheckSum
	}
	if doc.CSum != nil {
		cs.CheckSumScheme = *doc.CSum
	}
	// Legacy numbering: no checksum scheme advertised.
	if cs.CheckSumScheme == 0 {
		cs.AccessNumberUseCheckSum = false
	}

	if err := cs.Validate(); err != nil {
		return ClientSettings{}, err
	}
	return cs, nil
}

// Validate checks that every endpoint the enabled flows need is present.
func (cs ClientSettings) Validate() error {
	required := map[string]string{
		"registerURL":       cs.RegisterURL,
		"signatureURL":      cs.SignatureURL,
		"certivoxURL":       cs.CertivoxURL,
		"mpinAuthServerURL": cs.MPinAuthServerURL,
		"authenticateURL":   cs.AuthenticateURL,
	}
	if cs.UsePermits {
		required["timePermitsURL"] = cs.TimePermitsURL
	}

	missing := make([]string, 0)
	for name, v := range required {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	if cs.AccessNumberDigits <= 0 {
		return fmt.Errorf("accessNumberDigits must be positive, got %d", cs.AccessNumberDigits)
	}
	return nil
}

// Param returns a settings value by its document key, formatted as text.
func (cs ClientSettings) Param(key string) (string, bool) {
	v, ok := cs.params[key]
	return v, ok
}

// RewriteURL makes a relative URL absolute against backend and maps
// websocket schemes onto their HTTP equivalents.
func RewriteURL(value, backend string) string {
	switch {
	case strings.HasPrefix(value, "/"):
		return backend + value
	case strings.HasPrefix(value, "wss://"):
		return "https://" + strings.TrimPrefix(value, "wss://")
	case strings.HasPrefix(value, "ws://"):
		return "http://" + strings.TrimPrefix(value, "ws://")
	}
	return value
}

// BackendKey strips the scheme and trailing slash from a backend URL.
func BackendKey(backend string) string {
	key := strings.TrimPrefix(backend, "https://")
	key = strings.TrimPrefix(key, "http://")
	return strings.TrimRight(key, "/")
}

// SettingsURL joins backend and prefix into the client settings endpoint.
func SettingsURL(backend, prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.TrimRight(backend, "/") + "/" + strings.Trim(prefix, "/") + "/clientSettings"
}

func paramString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
