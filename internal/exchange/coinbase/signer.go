package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// signer produces the CB-ACCESS-* authentication headers. The API secret
// is base64 on the wire and must be decoded before keying the HMAC.
type signer struct {
	key        string
	secret     []byte
	passphrase string
}

func newSigner(key, secret, passphrase string) (*signer, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, errors.Wrap(err, "api secret is not valid base64")
	}
	return &signer{key: key, secret: decoded, passphrase: passphrase}, nil
}

// sign computes the request signature over timestamp+method+path+body.
func (s *signer) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// headers returns the four auth headers for a request.
func (s *signer) headers(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]string{
		"CB-ACCESS-KEY":        s.key,
		"CB-ACCESS-SIGN":       s.sign(timestamp, method, path, body),
		"CB-ACCESS-TIMESTAMP":  timestamp,
		"CB-ACCESS-PASSPHRASE": s.passphrase,
	}
}
