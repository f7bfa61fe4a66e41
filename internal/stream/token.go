package stream

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/interledger/ilp-gateway/pkg/ilpcrypto"
)

// ReceiverTokenClaims identifies which account a stream destination's
// address token was issued for, signed so that decoding it back to a
// username doesn't require a lookup table of issued tokens.
type ReceiverTokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ErrInvalidReceiverToken is returned by ParseReceiverToken for a token
// that fails signature verification, has expired, or carries no username.
var ErrInvalidReceiverToken = errors.New("stream: invalid receiver token")

func signingKey(serverSecret []byte) ([]byte, error) {
	return ilpcrypto.DeriveKey(serverSecret, ilpcrypto.LabelAddressToken)
}

// IssueReceiverToken builds the address-token segment embedded in an
// SPSP destination for username, valid for ttl.
func IssueReceiverToken(serverSecret []byte, username string, ttl time.Duration) (string, error) {
	key, err := signingKey(serverSecret)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := ReceiverTokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ParseReceiverToken verifies tokenString and returns the username it was
// issued for.
func ParseReceiverToken(serverSecret []byte, tokenString string) (string, error) {
	key, err := signingKey(serverSecret)
	if err != nil {
		return "", err
	}
	claims := &ReceiverTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidReceiverToken
		}
		return key, nil
	})
	if err != nil || !token.Valid || claims.Username == "" {
		return "", ErrInvalidReceiverToken
	}
	return claims.Username, nil
}

// addressTokenEncoder/Decoder round-trip a JWT's "." segment separators so
// it survives as a single dot-free ILP address segment. A JWT is always
// header.payload.signature (base64url, which never itself contains "~"),
// so this substitution is unambiguous to reverse.
var (
	addressTokenEncoder = strings.NewReplacer(".", "~")
	addressTokenDecoder = strings.NewReplacer("~", ".")
)

// EncodeAddressToken makes token safe to embed as a single ILP address
// segment via Address.WithSuffix, which would otherwise split the JWT's
// own "." separators into extra address segments.
func EncodeAddressToken(token string) string {
	return addressTokenEncoder.Replace(token)
}

// DecodeAddressToken reverses EncodeAddressToken.
func DecodeAddressToken(seg string) string {
	return addressTokenDecoder.Replace(seg)
}
