// Package mpintest provides an in-process M-Pin backend and crypto engine
// for tests and examples. The backend serves client settings, registration,
// the two D-TA shares, time permits, the two authentication passes and the
// relying-party endpoints, with enough state to exercise every error path
// the client distinguishes.
package mpintest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/goMPin/authresult"
)

// Options controls backend behaviour.
type Options struct {
	UsePermits           bool
	AccessNumberCheckSum bool
	AutoActivate         bool
	RequireVerification  bool
	PublishTimePermits   bool
	MaxAttempts          int
	Date                 int
	RPSPrefix            string
}

// DefaultOptions mirrors a typical production backend.
func DefaultOptions() Options {
	return Options{
		UsePermits:           true,
		AccessNumberCheckSum: true,
		PublishTimePermits:   true,
		MaxAttempts:          3,
		Date:                 17000,
		RPSPrefix:            "rps",
	}
}

type account struct {
	userID    string
	regOTT    string
	verified  bool
	share1    []byte
	share2    []byte
	attempts  int
	blocked   bool
	challenge []byte
	permitOK  bool
}

type authAttempt struct {
	mpinIDHex string
	ok        bool
	wid       string
}

// Server is a fake backend. Create it with NewServer and Close it when done.
type Server struct {
	*httptest.Server

	Tokens *authresult.TokenManager

	mu          sync.Mutex
	opts        Options
	accounts    map[string]*account
	denied      map[string]bool
	store       map[string]string
	attempts    map[string]authAttempt
	accessCodes map[string]string
	hits        []string
	failures    map[string]int
	redirects   map[string]string
	reissue     bool
	logouts     []string
	nextCode    int
}

// NewServer starts a backend with opts.
func NewServer(opts Options) *Server {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RPSPrefix == "" {
		opts.RPSPrefix = "rps"
	}
	tokens, err := authresult.NewTokenManager(authresult.TokenConfig{
		TTL:           time.Hour,
		SigningMethod: authresult.MethodHS256,
		PrivateKey:    randomBytes(32),
		Issuer:        "mpintest",
	})
	if err != nil {
		panic(err)
	}
	s := &Server{
		Tokens:      tokens,
		opts:        opts,
		accounts:    map[string]*account{},
		denied:      map[string]bool{},
		store:       map[string]string{},
		attempts:    map[string]authAttempt{},
		accessCodes: map[string]string{},
		failures:    map[string]int{},
		redirects:   map[string]string{},
		nextCode:    100000,
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// NewTLSServer is NewServer over TLS; use Server.Client() for requests.
func NewTLSServer(opts Options) *Server {
	s := NewServer(opts)
	s.Server.Close()
	s.Server = httptest.NewTLSServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	prefix := "/" + strings.Trim(s.opts.RPSPrefix, "/")
	r.Get("/service", s.handleService)
	r.Route(prefix, func(r chi.Router) {
		r.Get("/clientSettings", s.handleClientSettings)
		r.Put("/user", s.handleRegister)
		r.Put("/user/{mpinID}", s.handleRegister)
		r.Get("/signature/{mpinID}", s.handleSignature)
		r.Get("/timePermit/{mpinID}", s.handleTimePermit1)
		r.Post("/pass1", s.handlePass1)
		r.Post("/pass2", s.handlePass2)
		r.Post("/codeStatus", s.handleCodeStatus)
	})
	r.Get("/dta/clientSecret", s.handleClientSecret)
	r.Get("/dta/timePermit", s.handleTimePermit2)
	r.Get("/tpstore/{appID}/{date}/{storageID}", s.handleStore)
	r.Post("/mpinAuthenticate", s.handleAuthenticate(false))
	r.Post("/mpinAuthenticate/mobile", s.handleAuthenticate(true))
	r.Post("/authz", s.handleAuthz)
	r.Post("/logout", s.handleLogout)
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits = append(s.hits, r.Method+" "+r.URL.Path)
		code := 0
		for prefix, c := range s.failures {
			if strings.HasPrefix(r.URL.Path, prefix) {
				code = c
				delete(s.failures, prefix)
				break
			}
		}
		target := ""
		for prefix, t := range s.redirects {
			if strings.HasPrefix(r.URL.Path, prefix) {
				target = t
				delete(s.redirects, prefix)
				break
			}
		}
		s.mu.Unlock()
		if code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}
		if target != "" {
			http.Redirect(w, r, target, http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FailNext makes the next request whose path starts with pathPrefix answer
// with code.
func (s *Server) FailNext(pathPrefix string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[pathPrefix] = code
}

// RedirectNext makes the next request whose path starts with pathPrefix
// answer 307 to target.
func (s *Server) RedirectNext(pathPrefix, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects[pathPrefix] = target
}

// ReissueOnRestart makes a registration restart hand out a new mpin id.
func (s *Server) ReissueOnRestart(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reissue = on
}

// Hits counts requests whose path starts with pathPrefix.
func (s *Server) Hits(pathPrefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hits {
		if _, path, _ := strings.Cut(h, " "); strings.HasPrefix(path, pathPrefix) {
			n++
		}
	}
	return n
}

// ResetHits clears the request log.
func (s *Server) ResetHits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = nil
}

// Deny makes registration of userID fail with 403.
func (s *Server) Deny(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[userID] = true
}

// Verify marks userID's identity as verified, as an e-mail click would.
func (s *Server) Verify(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.userID == userID {
			a.verified = true
		}
	}
}

// SetDate moves the authority's day index.
func (s *Server) SetDate(date int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Date = date
}

// SetPublishTimePermits toggles population of the object store.
func (s *Server) SetPublishTimePermits(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.PublishTimePermits = on
}

// ClearStore empties the time-permit object store.
func (s *Server) ClearStore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = map[string]string{}
}

// Blocked reports whether the backend has blocked mpinIDHex.
func (s *Server) Blocked(mpinIDHex string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[mpinIDHex]
	return a != nil && a.blocked
}

// Logouts returns the logout payloads received so far.
func (s *Server) Logouts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logouts...)
}

// NewAccessCode registers a fresh access code with a valid checksum.
func (s *Server) NewAccessCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newAccessCodeLocked()
}

func (s *Server) newAccessCodeLocked() string {
	s.nextCode++
	code := WithChecksum(strconv.Itoa(s.nextCode))
	s.accessCodes[code] = ""
	return code
}

// WithChecksum appends the access-number check digit to six digits.
func WithChecksum(six string) string {
	sum := 0
	for i := 0; i < len(six); i++ {
		sum += int(six[i]-'0') * (7 - i)
	}
	return six + strconv.Itoa(((11-sum%11)%11)%10)
}

func (s *Server) handleClientSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	opts := s.opts
	s.mu.Unlock()

	prefix := "/" + strings.Trim(opts.RPSPrefix, "/")
	doc := map[string]any{
		"registerURL":           prefix + "/user",
		"signatureURL":          prefix + "/signature",
		"certivoxURL":           s.URL + "/dta/",
		"timePermitsURL":        prefix + "/timePermit",
		"timePermitsStorageURL": s.URL + "/tpstore",
		"appID":                 "mpintest-app",
		"mpinAuthServerURL":     strings.Replace(s.URL, "http", "ws", 1) + prefix,
		"authenticateURL":       "/mpinAuthenticate",
		"mobileAuthenticateURL": "/mpinAuthenticate/mobile",
		"codeStatusURL":         prefix + "/codeStatus",
		"usePermits":            opts.UsePermits,
		"accessNumberDigits":    7,
	}
	if opts.AccessNumberCheckSum {
		doc["cSum"] = 1
	}
	writeJSON(w, doc)
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"name":       "mpintest",
		"url":        s.URL,
		"rps_prefix": s.opts.RPSPrefix,
		"logo_url":   s.URL + "/logo.png",
		"type":       "online",
	})
}

type registerRequest struct {
	UserID       string `json:"userId"`
	Mobile       int    `json:"mobile"`
	DeviceName   string `json:"deviceName"`
	ActivateCode string `json:"activateCode"`
	RegOTT       string `json:"regOTT"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Mobile != 1 {
		http.Error(w, "bad registration request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied[req.UserID] {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	mpinIDHex := chi.URLParam(r, "mpinID")
	var a *account
	if mpinIDHex != "" {
		a = s.accounts[mpinIDHex]
		if a == nil || a.regOTT != req.RegOTT || a.userID != req.UserID {
			http.Error(w, "unknown registration", http.StatusGone)
			return
		}
		if s.reissue {
			delete(s.accounts, mpinIDHex)
			mpinIDHex = newMPinIDHex(req.UserID)
			s.accounts[mpinIDHex] = a
		}
	} else {
		mpinIDHex = newMPinIDHex(req.UserID)
		a = &account{
			userID:   req.UserID,
			verified: !s.opts.RequireVerification,
			share1:   randomBytes(32),
			share2:   randomBytes(32),
		}
		s.accounts[mpinIDHex] = a
	}
	a.regOTT = hex.EncodeToString(randomBytes(16))

	writeJSON(w, map[string]any{
		"mpinId":     mpinIDHex,
		"regOTT":     a.regOTT,
		"active":     s.opts.AutoActivate || req.ActivateCode != "",
		"customerId": "mpintest-customer",
		"appId":      "mpintest-app",
	})
}

func newMPinIDHex(userID string) string {
	id, _ := json.Marshal(map[string]string{"userID": userID, "issued": hex.EncodeToString(randomBytes(8))})
	return hex.EncodeToString(id)
}

func (s *Server) handleSignature(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mpinIDHex := chi.URLParam(r, "mpinID")
	a := s.accounts[mpinIDHex]
	if a == nil || a.regOTT == "" || a.regOTT != r.URL.Query().Get("regOTT") {
		http.Error(w, "unknown registration", http.StatusUnauthorized)
		return
	}
	if !a.verified {
		http.Error(w, "identity not verified", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{
		"clientSecretShare": hex.EncodeToString(a.share1),
		"params":            "mpin_id=" + mpinIDHex + "&mobile=1",
	})
}

func (s *Server) handleClientSecret(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[r.URL.Query().Get("mpin_id")]
	if a == nil {
		http.Error(w, "unknown identity", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"clientSecret": hex.EncodeToString(a.share2)})
}

func (s *Server) handleTimePermit1(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mpinIDHex := chi.URLParam(r, "mpinID")
	a := s.accounts[mpinIDHex]
	if a == nil {
		http.Error(w, "unknown identity", http.StatusNotFound)
		return
	}
	if a.blocked {
		http.Error(w, "revoked", http.StatusGone)
		return
	}
	writeJSON(w, map[string]any{
		"timePermit": hex.EncodeToString(permitShare("customer", mpinIDHex, s.opts.Date)),
		"date":       s.opts.Date,
		"storageId":  storageID(mpinIDHex),
		"signature":  signature(mpinIDHex, s.opts.Date),
	})
}

func (s *Server) handleTimePermit2(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := r.URL.Query()
	if q.Get("mobile") != "1" || q.Get("app_id") == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	for mpinIDHex := range s.accounts {
		if storageID(mpinIDHex) != q.Get("hash_mpin_id") {
			continue
		}
		if q.Get("signature") != signature(mpinIDHex, s.opts.Date) {
			http.Error(w, "bad signature", http.StatusForbidden)
			return
		}
		permit := hex.EncodeToString(permitShare("dta", mpinIDHex, s.opts.Date))
		if s.opts.PublishTimePermits {
			s.store[storeKey(q.Get("app_id"), s.opts.Date, q.Get("hash_mpin_id"))] = permit
		}
		writeJSON(w, map[string]string{"timePermit": permit})
		return
	}
	http.Error(w, "unknown identity", http.StatusGone)
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	date, _ := strconv.Atoi(chi.URLParam(r, "date"))
	s.mu.Lock()
	permit, ok := s.store[storeKey(chi.URLParam(r, "appID"), date, chi.URLParam(r, "storageID"))]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, permit)
}

type passRequest struct {
	Pass   int    `json:"pass"`
	MPinID string `json:"mpin_id"`
	U      string `json:"U"`
	UT     string `json:"UT"`
	V      string `json:"V"`
	WID    string `json:"WID"`
	OTP    bool   `json:"OTP"`
}

func (s *Server) handlePass1(w http.ResponseWriter, r *http.Request) {
	var req passRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pass != 1 {
		http.Error(w, "bad pass 1", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[req.MPinID]
	if a == nil || req.U != req.MPinID {
		http.Error(w, "unknown identity", http.StatusForbidden)
		return
	}
	a.permitOK = true
	if s.opts.UsePermits {
		want := permitCommitment(s.opts.Date,
			permitShare("customer", req.MPinID, s.opts.Date),
			permitShare("dta", req.MPinID, s.opts.Date))
		a.permitOK = req.UT == hex.EncodeToString(want)
	}
	a.challenge = randomBytes(32)
	writeJSON(w, map[string]string{"y": hex.EncodeToString(a.challenge)})
}

func (s *Server) handlePass2(w http.ResponseWriter, r *http.Request) {
	var req passRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pass != 2 || req.WID == "" {
		http.Error(w, "bad pass 2", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[req.MPinID]
	if a == nil || a.challenge == nil {
		http.Error(w, "no pass 1", http.StatusForbidden)
		return
	}
	v, _ := hex.DecodeString(req.V)
	ok := a.permitOK && hmac.Equal(v, proof(clientSecretKey(a.share1, a.share2), a.challenge))
	a.challenge = nil

	authOTT := hex.EncodeToString(randomBytes(16))
	s.attempts[authOTT] = authAttempt{mpinIDHex: req.MPinID, ok: ok, wid: req.WID}
	resp := map[string]any{"authOTT": authOTT, "version": "0.3"}
	if req.OTP {
		sum := sha256.Sum256([]byte(authOTT))
		resp["OTP"] = fmt.Sprintf("%06d", binary.BigEndian.Uint32(sum[:4])%1000000)
	}
	writeJSON(w, resp)
}

func (s *Server) handleAuthenticate(mobile bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MPinResponse struct {
				AuthOTT string `json:"authOTT"`
			} `json:"mpinResponse"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		att, found := s.attempts[req.MPinResponse.AuthOTT]
		delete(s.attempts, req.MPinResponse.AuthOTT)
		if !found {
			http.Error(w, "unknown authOTT", http.StatusRequestTimeout)
			return
		}
		a := s.accounts[att.mpinIDHex]
		if a.blocked {
			http.Error(w, "blocked", http.StatusGone)
			return
		}
		if mobile {
			if _, known := s.accessCodes[att.wid]; !known {
				http.Error(w, "wrong access number", http.StatusPreconditionFailed)
				return
			}
		}
		if !att.ok {
			a.attempts++
			if a.attempts >= s.opts.MaxAttempts {
				a.blocked = true
				http.Error(w, "blocked", http.StatusGone)
				return
			}
			http.Error(w, "wrong pin", http.StatusUnauthorized)
			return
		}
		a.attempts = 0
		if mobile {
			s.accessCodes[att.wid] = a.userID
		}

		token, err := s.Tokens.Issue(a.userID, att.mpinIDHex, hex.EncodeToString(randomBytes(8)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		now := time.Now()
		writeJSON(w, map[string]any{
			"ttlSeconds":   64,
			"expireTime":   now.Add(64 * time.Second).UnixMilli(),
			"nowTime":      now.UnixMilli(),
			"logoutURL":    "/logout",
			"logoutData":   map[string]string{"sessionToken": token},
			"sessionToken": token,
			"code":         "authz-" + hex.EncodeToString(randomBytes(6)),
		})
	}
}

func (s *Server) handleCodeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		WID    string `json:"wid"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accessCodes[req.WID]; !ok {
		http.Error(w, "unknown access code", http.StatusNotFound)
		return
	}
	switch req.Status {
	case "user":
		s.accessCodes[req.WID] = req.UserID
		w.WriteHeader(http.StatusOK)
	case "wid":
		writeJSON(w, map[string]string{
			"prerollId":       s.accessCodes[req.WID],
			"appName":         "mpintest",
			"appLogoURL":      s.URL + "/app.png",
			"customerId":      "mpintest-customer",
			"customerName":    "MPin Test",
			"customerLogoURL": s.URL + "/customer.png",
		})
	case "abort":
		delete(s.accessCodes, req.WID)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "unknown status", http.StatusBadRequest)
	}
}

func (s *Server) handleAuthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	code := s.newAccessCodeLocked()
	s.mu.Unlock()
	writeJSON(w, map[string]string{"qrURL": s.URL + "/mobile/login#" + code})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var doc struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		http.Error(w, "bad logout data", http.StatusBadRequest)
		return
	}
	if _, err := s.Tokens.Parse(doc.SessionToken); err != nil {
		http.Error(w, "bad session token", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	s.logouts = append(s.logouts, string(body))
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func permitShare(kind, mpinIDHex string, date int) []byte {
	sum := sha256.Sum256([]byte(kind + "|" + mpinIDHex + "|" + strconv.Itoa(date)))
	return sum[:]
}

func storageID(mpinIDHex string) string {
	sum := sha256.Sum256([]byte(mpinIDHex))
	return hex.EncodeToString(sum[:])
}

func signature(mpinIDHex string, date int) string {
	sum := sha256.Sum256([]byte("sig|" + mpinIDHex + "|" + strconv.Itoa(date)))
	return hex.EncodeToString(sum[:8])
}

func storeKey(appID string, date int, storageID string) string {
	return appID + "/" + strconv.Itoa(date) + "/" + storageID
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
