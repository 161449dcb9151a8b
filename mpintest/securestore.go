package mpintest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/goMPin/storage"
)

type secureDoc struct {
	Tokens  map[string]string `json:"tokens"`
	RegOTTs map[string]string `json:"regOTTs"`
}

// NewCryptoWithStorage returns an engine whose tokens and registration
// tokens live in st, the way a device keeps them in its keystore. Existing
// content is loaded first.
func NewCryptoWithStorage(ctx context.Context, st storage.Storage) (*Crypto, error) {
	c := NewCrypto()
	data, err := st.GetData(ctx)
	if err != nil {
		return nil, fmt.Errorf("mpintest: read secure storage: %w", err)
	}
	if data != "" {
		var doc secureDoc
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("mpintest: decode secure storage: %w", err)
		}
		for k, v := range doc.Tokens {
			raw, err := hex.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("mpintest: token %s: %w", k, err)
			}
			c.tokens[k] = raw
		}
		for k, v := range doc.RegOTTs {
			c.regOTTs[k] = v
		}
	}
	c.secure = st
	return c, nil
}

func (c *Crypto) saveLocked() error {
	if c.secure == nil {
		return nil
	}
	doc := secureDoc{
		Tokens:  make(map[string]string, len(c.tokens)),
		RegOTTs: make(map[string]string, len(c.regOTTs)),
	}
	for k, v := range c.tokens {
		doc.Tokens[k] = hex.EncodeToString(v)
	}
	for k, v := range c.regOTTs {
		doc.RegOTTs[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.secure.SetData(context.Background(), string(data))
}
