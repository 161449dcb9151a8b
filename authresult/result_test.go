package authresult

import (
	"testing"

	"github.com/MrEthical07/goMPin/status"
)

func TestExtractOTP(t *testing.T) {
	pass2 := []byte(`{"OTP":"123456","authOTT":"aa"}`)
	body := []byte(`{"ttlSeconds":64,"expireTime":1700000064000,"nowTime":1700000000000}`)

	otp, err := ExtractOTP(pass2, body)
	if err != nil {
		t.Fatalf("ExtractOTP: %v", err)
	}
	if otp.Code != "123456" || otp.TTLSeconds != 64 || otp.ExpireTime != 1700000064 || otp.NowTime != 1700000000 {
		t.Fatalf("unexpected otp %+v", otp)
	}
}

func TestExtractOTPFailures(t *testing.T) {
	tests := []struct {
		name  string
		pass2 string
		body  string
		msg   string
	}{
		{"not issued", `{"authOTT":"aa"}`, `{"ttlSeconds":1,"expireTime":1000,"nowTime":1000}`, "OTP not issued"},
		{"malformed", `{"OTP":"1"}`, `{"ttlSeconds":0,"expireTime":1000,"nowTime":1000}`, "OTP data is malformed"},
		{"sub-second times", `{"OTP":"1"}`, `{"ttlSeconds":5,"expireTime":999,"nowTime":1000}`, "OTP data is malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractOTP([]byte(tt.pass2), []byte(tt.body))
			if status.CodeOf(err) != status.ResponseParseError || status.MessageOf(err) != tt.msg {
				t.Fatalf("expected %q parse error, got %v", tt.msg, err)
			}
		})
	}
}

func TestExtractLogout(t *testing.T) {
	l, ok := ExtractLogout([]byte(`{"logoutURL":"/logout","logoutData":{"sessionToken":"abc"}}`))
	if !ok {
		t.Fatalf("expected logout data")
	}
	if l.URL != "/logout" || l.Data != `{"sessionToken":"abc"}` {
		t.Fatalf("unexpected logout %+v", l)
	}

	if _, ok := ExtractLogout([]byte(`{"logoutURL":"/logout"}`)); ok {
		t.Fatalf("logout without data must not be advertised")
	}
	if _, ok := ExtractLogout([]byte(`nope`)); ok {
		t.Fatalf("garbage must not be advertised")
	}
}

func TestAuthzCode(t *testing.T) {
	code, err := AuthzCode([]byte(`{"code":"xyz"}`))
	if err != nil || code != "xyz" {
		t.Fatalf("unexpected %q %v", code, err)
	}
	if _, err := AuthzCode([]byte(`{}`)); status.CodeOf(err) != status.ResponseParseError {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestSessionToken(t *testing.T) {
	tok, ok := SessionToken([]byte(`{"sessionToken":"a.b.c"}`))
	if !ok || tok != "a.b.c" {
		t.Fatalf("unexpected %q %v", tok, ok)
	}
	if _, ok := SessionToken([]byte(`{}`)); ok {
		t.Fatalf("expected no token")
	}
}
