// Package authresult extracts what a relying party hands back after a
// successful authentication: one-time passcodes, authorization codes,
// logout capabilities and session tokens.
package authresult

import (
	"encoding/json"

	"github.com/MrEthical07/goMPin/status"
)

// OTP is a one-time passcode issued by the authentication server. Times are
// Unix seconds.
type OTP struct {
	Code       string
	TTLSeconds int
	ExpireTime int64
	NowTime    int64
}

type otpCarrier struct {
	OTP string `json:"OTP"`
}

type otpTimes struct {
	TTLSeconds int   `json:"ttlSeconds"`
	ExpireTime int64 `json:"expireTime"`
	NowTime    int64 `json:"nowTime"`
}

// ExtractOTP reads the passcode from the pass-2 response and its validity
// window, given in milliseconds, from the relying party's response.
func ExtractOTP(pass2, body []byte) (OTP, error) {
	var carrier otpCarrier
	if len(pass2) > 0 {
		if err := json.Unmarshal(pass2, &carrier); err != nil {
			return OTP{}, status.Newf(status.ResponseParseError, "decode pass 2 response: %v", err)
		}
	}
	if carrier.OTP == "" {
		return OTP{}, status.New(status.ResponseParseError, "OTP not issued")
	}

	var times otpTimes
	if err := json.Unmarshal(body, &times); err != nil {
		return OTP{}, status.Newf(status.ResponseParseError, "decode authentication result: %v", err)
	}
	otp := OTP{
		Code:       carrier.OTP,
		TTLSeconds: times.TTLSeconds,
		ExpireTime: times.ExpireTime / 1000,
		NowTime:    times.NowTime / 1000,
	}
	if otp.TTLSeconds == 0 || otp.ExpireTime == 0 || otp.NowTime == 0 {
		return otp, status.New(status.ResponseParseError, "OTP data is malformed")
	}
	return otp, nil
}

// Logout is the relying party's logout capability: a URL relative to the
// backend and an opaque JSON payload to replay.
type Logout struct {
	URL  string
	Data string
}

// ExtractLogout reports the logout capability when body advertises one.
func ExtractLogout(body []byte) (Logout, bool) {
	var doc struct {
		LogoutURL  string          `json:"logoutURL"`
		LogoutData json.RawMessage `json:"logoutData"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.LogoutData == nil {
		return Logout{}, false
	}
	out := Logout{URL: doc.LogoutURL}
	if string(doc.LogoutData) != "null" {
		out.Data = string(doc.LogoutData)
	}
	return out, true
}

// AuthzCode returns the OIDC authorization code carried in body.
func AuthzCode(body []byte) (string, error) {
	var doc struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", status.Newf(status.ResponseParseError, "decode authentication result: %v", err)
	}
	if doc.Code == "" {
		return "", status.New(status.ResponseParseError, "authorization code not issued")
	}
	return doc.Code, nil
}

// SessionToken returns the signed session token carried in body, if any.
func SessionToken(body []byte) (string, bool) {
	var doc struct {
		Token string `json:"sessionToken"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.Token == "" {
		return "", false
	}
	return doc.Token, true
}
