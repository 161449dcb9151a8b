package flows

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/secret"
	"github.com/MrEthical07/goMPin/status"
)

// TimePermitSource names where the customer time-permit share came from.
type TimePermitSource string

const (
	TimePermitFromCache     TimePermitSource = "cache"
	TimePermitFromStorage   TimePermitSource = "storage"
	TimePermitFromAuthority TimePermitSource = "authority"
)

type timePermit1Response struct {
	TimePermit string `json:"timePermit"`
	Date       int    `json:"date"`
	StorageID  string `json:"storageId"`
	Signature  string `json:"signature"`
}

type timePermit2Response struct {
	TimePermit string `json:"timePermit"`
}

// TimePermit is the outcome of RunAcquireTimePermit. Shares holds the
// customer share first and the authority share second.
type TimePermit struct {
	Shares secret.List
	Date   int
	Source TimePermitSource
}

// RunAcquireTimePermit obtains both time-permit shares for u. The second
// share is resolved from the local cache, then the object store, then the
// authority, stopping at the first hit. Only an authority failure is fatal.
func RunAcquireTimePermit(ctx context.Context, u *identity.User, deps Deps) (*TimePermit, error) {
	deps.defaults()
	if err := deps.ready(); err != nil {
		return nil, err
	}
	cs := deps.Settings

	var tp1 timePermit1Response
	tp1URL := strings.TrimRight(cs.TimePermitsURL, "/") + "/" + u.MPinIDHex()
	if _, err := deps.Client.Call(ctx, status.StepTimePermit1, http.MethodGet, tp1URL, nil, &tp1); err != nil {
		return nil, err
	}
	share1, err := secret.FromHex(tp1.TimePermit)
	if err != nil || share1.Empty() {
		return nil, status.New(status.ResponseParseError, "invalid timePermit")
	}

	if cached, ok := u.CachedTimePermit(tp1.Date); ok {
		deps.MetricInc(deps.Metrics.TimePermitCacheHit)
		return &TimePermit{Shares: secret.List{share1, cached.Permit()}, Date: tp1.Date, Source: TimePermitFromCache}, nil
	}

	if share2 := fetchStoredTimePermit(ctx, cs.TimePermitsStorageURL, cs.AppID, tp1, deps); share2 != nil {
		deps.MetricInc(deps.Metrics.TimePermitStoreHit)
		cacheTimePermit(ctx, u, share2, tp1.Date, deps)
		return &TimePermit{Shares: secret.List{share1, share2}, Date: tp1.Date, Source: TimePermitFromStorage}, nil
	}

	q := url.Values{}
	q.Set("hash_mpin_id", tp1.StorageID)
	q.Set("app_id", cs.AppID)
	q.Set("mobile", "1")
	q.Set("signature", tp1.Signature)

	var tp2 timePermit2Response
	if _, err := deps.Client.Call(ctx, status.StepTimePermit2, http.MethodGet, authorityURL(cs.CertivoxURL, "timePermit", q.Encode()), nil, &tp2); err != nil {
		share1.Wipe()
		return nil, err
	}
	share2, err := secret.FromHex(tp2.TimePermit)
	if err != nil || share2.Empty() {
		share1.Wipe()
		return nil, status.New(status.ResponseParseError, "invalid timePermit")
	}

	deps.MetricInc(deps.Metrics.TimePermitAuthority)
	cacheTimePermit(ctx, u, share2, tp1.Date, deps)
	return &TimePermit{Shares: secret.List{share1, share2}, Date: tp1.Date, Source: TimePermitFromAuthority}, nil
}

// fetchStoredTimePermit looks the customer share up in the object store.
// The body is the raw hex permit. Any failure falls through to the authority.
func fetchStoredTimePermit(ctx context.Context, storageURL, appID string, tp1 timePermit1Response, deps Deps) *secret.Bytes {
	if storageURL == "" || appID == "" || tp1.StorageID == "" {
		return nil
	}
	objURL := strings.TrimRight(storageURL, "/") + "/" + appID + "/" + strconv.Itoa(tp1.Date) + "/" + tp1.StorageID
	res, err := deps.Client.Do(ctx, http.MethodGet, objURL, nil)
	if err != nil || !res.OK() {
		return nil
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(res.Body)))
	if err != nil || len(raw) == 0 {
		return nil
	}
	out := secret.New(raw)
	secret.Zero(raw)
	return out
}

// cacheTimePermit is best effort: the permit is already in hand for this
// session, so a persistence failure is only logged.
func cacheTimePermit(ctx context.Context, u *identity.User, permit *secret.Bytes, date int, deps Deps) {
	u.CacheTimePermit(permit.Bytes(), date)
	if err := deps.Persist(ctx); err != nil {
		deps.Warn("goMPin: cache time permit for user %s failed: %v", u.ID(), err)
	}
}
