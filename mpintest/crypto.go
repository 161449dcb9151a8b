package mpintest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/MrEthical07/goMPin/identity"
	"github.com/MrEthical07/goMPin/storage"
)

// Crypto is an in-memory stand-in for the pairing-based crypto engine. It
// derives proofs that Server can check, so a wrong PIN is detected by the
// server exactly as with real M-Pin: the token alone does not reveal the
// client secret without the PIN.
type Crypto struct {
	mu      sync.Mutex
	tokens  map[string][]byte
	regOTTs map[string]string
	pending map[string][]byte
	open    int

	// Opened and Closed count session brackets.
	Opened int
	Closed int

	// FailRegister, when set, is returned by Register.
	FailRegister error

	// secure, when set, receives every token and regOTT change.
	secure storage.Storage
}

// NewCrypto returns an empty engine.
func NewCrypto() *Crypto {
	return &Crypto{tokens: map[string][]byte{}, regOTTs: map[string]string{}, pending: map[string][]byte{}}
}

func (c *Crypto) OpenSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open++
	c.Opened++
	return nil
}

func (c *Crypto) CloseSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open--
	c.Closed++
	if c.open == 0 {
		for k, v := range c.pending {
			for i := range v {
				v[i] = 0
			}
			delete(c.pending, k)
		}
	}
}

// SessionOpen reports whether a session bracket is still open.
func (c *Crypto) SessionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open != 0
}

// Register stores token = H(share1 || share2) xor H(pin).
func (c *Crypto) Register(u *identity.User, pin []byte, shares [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == 0 {
		return errors.New("register outside of a session")
	}
	if c.FailRegister != nil {
		return c.FailRegister
	}
	if len(shares) != 2 {
		return errors.New("expected two client secret shares")
	}
	c.tokens[u.MPinIDHex()] = xor(clientSecretKey(shares[0], shares[1]), pinKey(pin))
	return c.saveLocked()
}

// AuthenticatePass1 commits to the identity and, when permits are in use,
// to the combined time permit for date.
func (c *Crypto) AuthenticatePass1(u *identity.User, pin []byte, date int, permits [][]byte) ([]byte, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == 0 {
		return nil, nil, errors.New("pass 1 outside of a session")
	}
	token, ok := c.tokens[u.MPinIDHex()]
	if !ok {
		return nil, nil, errors.New("no token stored for identity")
	}
	c.pending[u.MPinIDHex()] = xor(token, pinKey(pin))
	commitU := u.MPinID()
	var commitUT []byte
	if len(permits) == 2 {
		commitUT = permitCommitment(date, permits[0], permits[1])
	}
	return commitU, commitUT, nil
}

// AuthenticatePass2 answers challenge with HMAC(token xor H(pin), y), using
// the PIN given to pass 1 in the same session.
func (c *Crypto) AuthenticatePass2(u *identity.User, challenge []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.pending[u.MPinIDHex()]
	if c.open == 0 || !ok {
		return nil, errors.New("pass 2 without pass 1")
	}
	return proof(key, challenge), nil
}

func (c *Crypto) DeleteToken(mpinIDHex string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, mpinIDHex)
	return c.saveLocked()
}

// HasToken reports whether a long-term secret is stored for mpinIDHex.
func (c *Crypto) HasToken(mpinIDHex string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tokens[mpinIDHex]
	return ok
}

func (c *Crypto) SaveRegOTT(mpinIDHex, regOTT string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regOTTs[mpinIDHex] = regOTT
	return c.saveLocked()
}

func (c *Crypto) LoadRegOTT(mpinIDHex string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regOTTs[mpinIDHex], nil
}

func (c *Crypto) DeleteRegOTT(mpinIDHex string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.regOTTs, mpinIDHex)
	return c.saveLocked()
}

func clientSecretKey(share1, share2 []byte) []byte {
	h := sha256.New()
	h.Write(share1)
	h.Write(share2)
	return h.Sum(nil)
}

func pinKey(pin []byte) []byte {
	sum := sha256.Sum256(pin)
	return sum[:]
}

func permitCommitment(date int, share1, share2 []byte) []byte {
	var d [8]byte
	binary.BigEndian.PutUint64(d[:], uint64(date))
	h := sha256.New()
	h.Write(d[:])
	h.Write(share1)
	h.Write(share2)
	return h.Sum(nil)
}

func proof(key, challenge []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(challenge)
	return mac.Sum(nil)
}

func xor(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i%len(b)]
	}
	return out
}
