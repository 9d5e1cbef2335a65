package auth

import (
	"context"
	"errors"
)

func (v *Validator) checkOAuthToken(ctx context.Context, cred *Credential) (*Result, error) {
	tok, err := v.store.FindAccessTokenByHash(ctx, cred.Hash)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if tok.IsExpired(v.now()) {
		return nil, nil
	}

	grant, err := v.store.GetRefreshGrant(ctx, tok.RefreshGrantID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if grant.IsRevoked() || grant.UserID != tok.UserID {
		return nil, nil
	}

	return v.userResult(ctx, tok.UserID, cred.Agent)
}
