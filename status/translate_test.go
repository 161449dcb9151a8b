package status

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslateOverridesPerStep(t *testing.T) {
	tests := []struct {
		step Step
		http int
		want Code
	}{
		{StepServiceDetails, 412, BadClientVersion},
		{StepRegister, 403, IdentityNotAuthorized},
		{StepRegister, 410, RegistrationExpired},
		{StepClientSecret1, 400, IdentityNotVerified},
		{StepClientSecret1, 401, IdentityNotVerified},
		{StepClientSecret1, 408, RequestExpired},
		{StepClientSecret2, 408, RequestExpired},
		{StepClientSecret2, 401, HTTPRequestError},
		{StepTimePermit1, 410, Revoked},
		{StepTimePermit2, 410, Revoked},
		{StepAuthenticateRPA, 401, IncorrectPIN},
		{StepAuthenticateRPA, 403, IdentityNotAuthorized},
		{StepAuthenticateRPA, 408, RequestExpired},
		{StepAuthenticateRPA, 409, ClientSecretExpired},
		{StepAuthenticateRPA, 410, IncorrectPIN},
		{StepAuthenticateRPA, 412, IncorrectAccessNumber},
		{StepPass1, 401, HTTPRequestError},
		{StepPass2, 410, HTTPRequestError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.step, tt.http), func(t *testing.T) {
			require.Equal(t, tt.want, Translate(tt.step, tt.http))
		})
	}
}

// Every step must translate every status without falling through to OK.
func TestTranslateExhaustive(t *testing.T) {
	for _, step := range Steps() {
		for code := 100; code < 600; code++ {
			got := Translate(step, code)
			if code == http.StatusOK {
				require.Equal(t, OK, got, "step %s", step)
				continue
			}
			require.NotEqual(t, OK, got, "step %s status %d", step, code)
			require.True(t, got < codeCount, "step %s status %d", step, code)

			if _, overridden := overrides[step][code]; overridden {
				continue
			}
			switch {
			case code >= 500:
				require.Equal(t, HTTPServerError, got)
			case code == 406:
				require.Equal(t, BadUserAgent, got)
			case code >= 400:
				require.Equal(t, HTTPRequestError, got)
			default:
				require.Equal(t, NetworkError, got)
			}
		}
	}
}

func TestBlocksOnlyOnAuthenticateGone(t *testing.T) {
	for _, step := range Steps() {
		for _, code := range []int{401, 403, 408, 410, 412} {
			want := step == StepAuthenticateRPA && code == 410
			require.Equal(t, want, Blocks(step, code), "step %s status %d", step, code)
		}
	}
}

func TestFromHTTPMessage(t *testing.T) {
	require.Nil(t, FromHTTP(StepPass1, 200, ""))

	s := FromHTTP(StepAuthenticateRPA, 410, "gone")
	require.Equal(t, IncorrectPIN, s.Code)
	require.Equal(t, "User blocked", s.Message)

	s = FromHTTP(StepPass1, 503, "")
	require.Equal(t, HTTPServerError, s.Code)
	require.Equal(t, http.StatusText(503), s.Message)
}

func TestStatusEqualityOnCodeOnly(t *testing.T) {
	a := New(FlowError, "one")
	b := New(FlowError, "two")
	require.True(t, errors.Is(a, b))
	require.True(t, errors.Is(fmt.Errorf("wrapped: %w", a), ErrFlow))
	require.False(t, errors.Is(a, ErrStorage))
	require.False(t, errors.Is(a, errors.New("FLOW_ERROR")))
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, OK, CodeOf(nil))
	require.Equal(t, Revoked, CodeOf(fmt.Errorf("x: %w", ErrRevoked)))
	require.Equal(t, FlowError, CodeOf(errors.New("plain")))
	require.Equal(t, "boom", MessageOf(New(CryptoError, "boom")))
}

func TestLocalRemoteClassification(t *testing.T) {
	local := []Code{PinInputCanceled, CryptoError, StorageError, NetworkError, ResponseParseError, FlowError, UntrustedDomainError}
	for _, c := range local {
		require.True(t, c.Local(), c.String())
		require.False(t, c.Remote(), c.String())
	}
	remote := []Code{IdentityNotAuthorized, IdentityNotVerified, RequestExpired, Revoked, IncorrectPIN,
		IncorrectAccessNumber, HTTPServerError, HTTPRequestError, BadUserAgent, ClientSecretExpired,
		BadClientVersion, RegistrationExpired}
	for _, c := range remote {
		require.True(t, c.Remote(), c.String())
	}
	require.False(t, OK.Local())
	require.False(t, OK.Remote())
}

func TestCodeString(t *testing.T) {
	require.Equal(t, "REVOKED", Revoked.String())
	require.Equal(t, "Code(99)", Code(99).String())
	for c := OK; c < codeCount; c++ {
		require.NotEmpty(t, codeNames[c], "code %d has no name", int(c))
	}
}
