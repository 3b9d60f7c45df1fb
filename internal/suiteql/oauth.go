package suiteql

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Credentials hold token based authentication secrets for the integration.
type Credentials struct {
	AccountID      string
	ConsumerKey    string
	ConsumerSecret string
	TokenID        string
	TokenSecret    string
}

// Realm is the account id in the upper-case, underscore form the remote
// expects (sandbox ids such as 1234567-sb1 become 1234567_SB1).
func (c Credentials) Realm() string {
	return strings.ToUpper(strings.ReplaceAll(c.AccountID, "-", "_"))
}

// Host returns the REST host for the account.
func (c Credentials) Host() string {
	return strings.ToLower(strings.ReplaceAll(c.AccountID, "_", "-")) + ".suitetalk.api.netsuite.com"
}

// Signer produces OAuth 1.0a HMAC-SHA256 Authorization headers.
type Signer struct {
	creds Credentials
	now   func() time.Time
	nonce func() string
}

// NewSigner constructs a signer for the credentials.
func NewSigner(creds Credentials) *Signer {
	return &Signer{creds: creds, now: time.Now, nonce: randomNonce}
}

// Authorization returns the header value for a request.
func (s *Signer) Authorization(method string, target *url.URL) string {
	params := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA256",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_token":            s.creds.TokenID,
		"oauth_version":          "1.0",
	}
	params["oauth_signature"] = s.sign(method, target, params)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, `realm="`+s.creds.Realm()+`"`)
	for _, k := range keys {
		parts = append(parts, k+`="`+percentEncode(params[k])+`"`)
	}
	return "OAuth " + strings.Join(parts, ",")
}

func (s *Signer) sign(method string, target *url.URL, oauth map[string]string) string {
	type pair struct{ k, v string }
	var pairs []pair
	for k, v := range oauth {
		pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
	}
	for k, vs := range target.Query() {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k == pairs[j].k {
			return pairs[i].v < pairs[j].v
		}
		return pairs[i].k < pairs[j].k
	})
	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.k + "=" + p.v
	}

	base := url.URL{Scheme: strings.ToLower(target.Scheme), Host: strings.ToLower(target.Host), Path: target.Path}
	baseString := strings.ToUpper(method) + "&" + percentEncode(base.String()) + "&" + percentEncode(strings.Join(encoded, "&"))
	key := percentEncode(s.creds.ConsumerSecret) + "&" + percentEncode(s.creds.TokenSecret)

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode applies RFC 3986 encoding, leaving only unreserved characters.
func percentEncode(s string) string {
	const hexUpper = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hexUpper[c>>4])
		sb.WriteByte(hexUpper[c&0x0f])
	}
	return sb.String()
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}
