// Package session decodes, validates and refreshes the signed session
// cookie. The cookie is the sole authentication signal the edge layer
// consults; the identity authority is only called to refresh on expiry.
package session

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims is the server-side cookie payload. The access token lives
// here, never in anything handed to the presentation layer.
type sessionClaims struct {
	Mobile      string  `json:"mobile,omitempty"`
	FirstName   string  `json:"firstName,omitempty"`
	LastName    string  `json:"lastName,omitempty"`
	Address     *string `json:"address,omitempty"`
	AccessToken string  `json:"accessToken"`
	jwt.RegisteredClaims
}

// Record is the decoded server-side session. The upstream access token is
// deliberately unexported: Profile() is the only outward view and it
// carries identity fields only.
type Record struct {
	ID        string
	Mobile    string
	FirstName string
	LastName  string
	Address   *string
	IssuedAt  time.Time
	ExpiresAt time.Time

	accessToken string
}

// Profile is the browser-visible whitelist of identity fields.
type Profile struct {
	ID        string  `json:"id"`
	Mobile    string  `json:"mobile,omitempty"`
	FirstName string  `json:"firstName,omitempty"`
	LastName  string  `json:"lastName,omitempty"`
	Address   *string `json:"address,omitempty"`
}

func (r *Record) Profile() Profile {
	return Profile{
		ID:        r.ID,
		Mobile:    r.Mobile,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Address:   r.Address,
	}
}

func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// NewRecord builds an unsealed record from the identity fields returned by
// the authority at login. Issue() stamps the timestamps.
func NewRecord(id, mobile, firstName, lastName string, address *string, accessToken string) *Record {
	return &Record{
		ID:          id,
		Mobile:      mobile,
		FirstName:   firstName,
		LastName:    lastName,
		Address:     address,
		accessToken: accessToken,
	}
}

var (
	ErrEmptyToken      = errors.New("empty token")
	ErrMissingKID      = errors.New("missing kid")
	ErrUnknownKID      = errors.New("unknown kid")
	ErrIssuerMismatch  = errors.New("issuer mismatch")
	ErrExpMissing      = errors.New("exp missing")
	ErrLifetimeTooLong = errors.New("token lifetime exceeds policy")
)

// Codec signs and verifies session cookies with an HMAC keyring. Key
// selection is by kid header so secrets can rotate without invalidating
// live sessions.
type Codec struct {
	alg        string
	keys       map[string][]byte
	currentKID string
	issuer     string
	skew       time.Duration
	lifetime   time.Duration

	nowFunc func() time.Time // for tests
}

// NewCodec loads base64url secrets. alg must be an HMAC algorithm.
func NewCodec(alg string, keys map[string]string, currentKID, issuer string, skewSec int, lifetime time.Duration) (*Codec, error) {
	switch alg {
	case "HS256", "HS384", "HS512":
	default:
		return nil, errors.New("unsupported alg (expected HS256/384/512)")
	}
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	c := &Codec{
		alg:      alg,
		keys:     make(map[string][]byte, len(keys)),
		issuer:   issuer,
		skew:     time.Duration(skewSec) * time.Second,
		lifetime: lifetime,
		nowFunc:  time.Now,
	}
	for kid, b64 := range keys {
		dec, err := base64.RawURLEncoding.DecodeString(b64)
		if err != nil {
			return nil, err
		}
		if len(dec) < 16 {
			return nil, errors.New("signing key too short; need >=16 bytes")
		}
		c.keys[kid] = dec
	}
	if _, ok := c.keys[currentKID]; !ok {
		return nil, errors.New("current_kid not found in keys")
	}
	c.currentKID = currentKID
	if c.issuer == "" {
		c.issuer = "edgegate"
	}
	return c, nil
}

func (c *Codec) Lifetime() time.Duration { return c.lifetime }

// Issue seals rec into a signed cookie value, stamping IssuedAt/ExpiresAt
// in place with the configured session lifetime.
func (c *Codec) Issue(rec *Record) (string, error) {
	now := c.nowFunc()
	rec.IssuedAt = now
	rec.ExpiresAt = now.Add(c.lifetime)

	claims := sessionClaims{
		Mobile:      rec.Mobile,
		FirstName:   rec.FirstName,
		LastName:    rec.LastName,
		Address:     rec.Address,
		AccessToken: rec.accessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   rec.ID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(rec.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
		},
	}
	t := jwt.NewWithClaims(jwt.GetSigningMethod(c.alg), claims)
	t.Header["kid"] = c.currentKID
	secret := c.keys[c.currentKID]
	if len(secret) == 0 {
		return "", errors.New("missing signing key for current_kid")
	}
	return t.SignedString(secret)
}

// Decode verifies signature, issuer and shape, and returns the record.
// Expiry is NOT enforced here: the resolver reads expired records too, to
// decide whether a refresh is worth attempting.
func (c *Codec) Decode(tok string) (*Record, error) {
	if tok == "" {
		return nil, ErrEmptyToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.alg}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)

	var claims sessionClaims
	token, err := parser.ParseWithClaims(tok, &claims, func(t *jwt.Token) (interface{}, error) {
		kidVal, ok := t.Header["kid"]
		if !ok {
			return nil, ErrMissingKID
		}
		kid, _ := kidVal.(string)
		secret, ok := c.keys[kid]
		if !ok {
			return nil, ErrUnknownKID
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(claims.Issuer), []byte(c.issuer)) != 1 {
		return nil, ErrIssuerMismatch
	}
	if claims.ExpiresAt == nil {
		return nil, ErrExpMissing
	}
	// Reject tokens claiming a longer life than policy allows.
	if claims.IssuedAt != nil {
		if claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time) > c.lifetime+c.skew {
			return nil, ErrLifetimeTooLong
		}
	}

	rec := &Record{
		ID:          claims.Subject,
		Mobile:      claims.Mobile,
		FirstName:   claims.FirstName,
		LastName:    claims.LastName,
		Address:     claims.Address,
		ExpiresAt:   claims.ExpiresAt.Time,
		accessToken: claims.AccessToken,
	}
	if claims.IssuedAt != nil {
		rec.IssuedAt = claims.IssuedAt.Time
	}
	return rec, nil
}
