package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// allowedSigningMethods excludes HMAC and "none".
var allowedSigningMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}

// idpClaims are the claims read from an external IdP assertion.
type idpClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

func (v *Validator) checkExternalIdP(ctx context.Context, cred *Credential) (*Result, error) {
	agent := cred.Agent
	if strings.HasPrefix(cred.Raw, TokenPrefix) || agent.IdentityProviderID == "" {
		return nil, nil
	}
	if strings.Count(cred.Raw, ".") != 2 {
		return nil, nil
	}

	idp, err := v.store.GetIdentityProvider(ctx, agent.IdentityProviderID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if idp.OIDC == nil || idp.OIDC.Issuer == "" || idp.OIDC.ClientID == "" {
		return nil, nil
	}
	oidc := idp.OIDC

	jwksURL := oidc.JWKSURL
	if jwksURL == "" {
		jwksURL, err = v.discovery.JWKSURI(ctx, oidc.Issuer)
		if err != nil {
			return nil, err
		}
	}

	claims := &idpClaims{}
	var keyErr error
	_, err = jwt.ParseWithClaims(cred.Raw, claims,
		func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			key, err := v.keys.Key(ctx, jwksURL, kid)
			if err != nil && !errors.Is(err, ErrUnknownKey) {
				keyErr = err
			}
			return key, err
		},
		jwt.WithIssuer(oidc.Issuer),
		jwt.WithAudience(oidc.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods(allowedSigningMethods),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.leeway),
	)
	if keyErr != nil {
		return nil, keyErr
	}
	if err != nil {
		v.logger.Debug("idp assertion rejected",
			"idp_id", idp.ID,
			"jwt_sha256", cred.Hash,
			"reason", err,
		)
		return nil, nil
	}

	if claims.Email == "" {
		return nil, nil
	}
	user, err := v.store.FindUserByEmail(ctx, claims.Email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.OrganizationID != agent.OrganizationID {
		return nil, nil
	}

	return &Result{
		IdentityID:     user.ID,
		UserID:         user.ID,
		Email:          user.Email,
		OrganizationID: user.OrganizationID,
		TeamIDs:        append([]string(nil), user.TeamIDs...),
		IsAdmin:        user.HasPermission(PermissionAdminAll),
	}, nil
}
