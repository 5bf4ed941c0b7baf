package core

import (
	"context"
	"fmt"
	"strings"
)

// BearerTokenSigner attaches the credential's access token as an
// Authorization header, honoring the stored token type.
type BearerTokenSigner struct{}

func (BearerTokenSigner) Sign(_ context.Context, req *Request, set CredentialSet) error {
	if req == nil {
		return fmt.Errorf("core: request is required for signing")
	}
	token := strings.TrimSpace(set.AccessToken)
	if token == "" {
		return fmt.Errorf("core: access token is required for bearer signing")
	}
	tokenType := strings.TrimSpace(set.TokenType)
	if tokenType == "" {
		tokenType = TokenTypeBearer
	}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers["Authorization"] = tokenType + " " + token
	return nil
}
