package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/giantswarm/team-broker/apperrors"
)

// maxErrorBodyLength bounds the response body kept on token errors.
const maxErrorBodyLength = 2048

// OAuth2ConfigExchanger is an interface for the Exchange method of oauth2.Config.
type OAuth2ConfigExchanger interface {
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// ExchangeCodeWithPKCE exchanges an authorization code using httpClient and
// sends the PKCE verifier when one is given. Token endpoint rejections are
// converted by TokenError.
func ExchangeCodeWithPKCE(ctx context.Context, config OAuth2ConfigExchanger, httpClient *http.Client, code, verifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	token, err := config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, TokenError("exchange", err)
	}
	return token, nil
}

// TokenError converts an error from the oauth2 package into an
// *apperrors.TokenExchangeError, keeping the platform's status, error code,
// description and a bounded copy of the body.
func TokenError(operation string, err error) error {
	tokenErr := &apperrors.TokenExchangeError{Operation: operation, Err: err}

	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return tokenErr
	}

	tokenErr.Code = re.ErrorCode
	tokenErr.Description = re.ErrorDescription
	if re.Response != nil {
		tokenErr.StatusCode = re.Response.StatusCode
	}

	body := re.Body
	if len(body) > maxErrorBodyLength {
		body = body[:maxErrorBodyLength]
	}
	tokenErr.Body = string(body)

	// Some platforms answer errors with JSON the oauth2 package does not parse
	// (e.g. non-standard content types); fall back to reading it ourselves.
	if tokenErr.Code == "" && len(re.Body) > 0 {
		var payload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(re.Body, &payload) == nil {
			tokenErr.Code = payload.Error
			tokenErr.Description = payload.ErrorDescription
		}
	}

	return tokenErr
}
