package jwt

import (
	"errors"
	"fmt"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the subset of access token claims the backend relies on.
type Claims struct {
	Subject  string
	Username string
	ID       string
}

// Inspector validates access tokens issued by Creator
type Inspector struct {
	signer Signer
}

func NewInspector(signer Signer) *Inspector {
	return &Inspector{signer: signer}
}

// Introspect verifies the signature, issuer and expiry of rawToken.
// Expired tokens yield ErrTokenExpired so callers can tell clients to refresh.
func (i *Inspector) Introspect(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ErrInvalidToken
	}

	parser := jwtlib.NewParser(
		jwtlib.WithIssuer(Issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(NowTimeFunc),
	)
	token, err := parser.ParseWithClaims(rawToken, jwtlib.MapClaims{}, i.signer.GetVerificationKey)
	if errors.Is(err, jwtlib.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	username, _ := claims["username"].(string)
	jti, _ := claims["jti"].(string)

	return &Claims{Subject: sub, Username: username, ID: jti}, nil
}
