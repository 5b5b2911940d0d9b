package login

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/openkcm/directory-auth/internal/serviceerr"
)

// DefaultRefreshTokenLifespan is the assumed lifetime of Azure AD refresh tokens.
const DefaultRefreshTokenLifespan = 333*time.Hour + 36*time.Minute

// Claims is the identity read from an ID token.
type Claims struct {
	SubjectID          string
	PreferredUsername  string
	DisplayName        string
	TenantID           string
	NotBefore          time.Time
	RefreshTokenExpiry time.Time
	// Extended holds every unmapped payload field when extended mode is on.
	Extended map[string]string
}

// mapped claims never end up in Claims.Extended.
var mappedClaims = map[string]bool{
	"oid":                true,
	"preferred_username": true,
	"name":               true,
	"tid":                true,
}

type azureClaims struct {
	OID               string `json:"oid"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	TID               string `json:"tid"`
}

type ClaimsExtractor struct {
	algs     []jose.SignatureAlgorithm
	lifespan time.Duration
	extended bool
	now      func() time.Time
}

// NewClaimsExtractor accepts ID tokens signed with one of algs (RS256 when
// empty).
func NewClaimsExtractor(algs []string, lifespan time.Duration, extended bool) *ClaimsExtractor {
	sigAlgs := make([]jose.SignatureAlgorithm, 0, len(algs))
	for _, alg := range algs {
		sigAlgs = append(sigAlgs, jose.SignatureAlgorithm(alg))
	}
	if len(sigAlgs) == 0 {
		sigAlgs = []jose.SignatureAlgorithm{jose.RS256}
	}

	if lifespan <= 0 {
		lifespan = DefaultRefreshTokenLifespan
	}

	return &ClaimsExtractor{
		algs:     sigAlgs,
		lifespan: lifespan,
		extended: extended,
		now:      time.Now,
	}
}

// ExtractClaims decodes idToken without verifying its signature.
// TODO: verify against the tenant's JWKS once keys are fetched per tenant.
func (e *ClaimsExtractor) ExtractClaims(idToken string) (Claims, error) {
	token, err := jwt.ParseSigned(idToken, e.algs)
	if err != nil {
		return Claims{}, serviceerr.MalformedIdentityToken("parsing id token: %v", err)
	}

	var std jwt.Claims
	var custom azureClaims
	if err := token.UnsafeClaimsWithoutVerification(&std, &custom); err != nil {
		return Claims{}, serviceerr.MalformedIdentityToken("reading id token claims: %v", err)
	}

	switch {
	case custom.OID == "":
		return Claims{}, serviceerr.MalformedIdentityToken("claim oid is missing")
	case custom.PreferredUsername == "":
		return Claims{}, serviceerr.MalformedIdentityToken("claim preferred_username is missing")
	case custom.TID == "":
		return Claims{}, serviceerr.MalformedIdentityToken("claim tid is missing")
	}

	basis := e.now()
	switch {
	case std.NotBefore != nil:
		basis = std.NotBefore.Time()
	case std.IssuedAt != nil:
		basis = std.IssuedAt.Time()
	}

	claims := Claims{
		SubjectID:          custom.OID,
		PreferredUsername:  custom.PreferredUsername,
		DisplayName:        custom.Name,
		TenantID:           custom.TID,
		NotBefore:          basis,
		RefreshTokenExpiry: basis.Add(e.lifespan),
	}

	if e.extended {
		claims.Extended, err = e.extendedClaims(idToken)
		if err != nil {
			return Claims{}, err
		}
	}

	return claims, nil
}

// extendedClaims stringifies the unmapped payload fields. Strings are kept
// verbatim, everything else as compact JSON.
func (e *ClaimsExtractor) extendedClaims(idToken string) (map[string]string, error) {
	jws, err := jose.ParseSignedCompact(idToken, e.algs)
	if err != nil {
		return nil, serviceerr.MalformedIdentityToken("parsing id token: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), &fields); err != nil {
		return nil, serviceerr.MalformedIdentityToken("decoding id token payload: %v", err)
	}

	out := make(map[string]string, len(fields))
	for name, raw := range fields {
		if mappedClaims[name] {
			continue
		}

		var s string
		if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
			out[name] = s
			continue
		}

		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			out[name] = string(raw)
			continue
		}
		out[name] = buf.String()
	}

	return out, nil
}
