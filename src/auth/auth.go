// Package auth holds the authentication variants attached to call templates
// and the OAuth2 client-credentials token cache.
package auth

import (
	"errors"

	"github.com/toolmux/toolmux/src/codec"
)

// AuthType represents the kind of authentication.
type AuthType string

const (
	// APIKeyType indicates API key-based authentication.
	APIKeyType AuthType = "api_key"

	// BasicType indicates basic username/password authentication.
	BasicType AuthType = "basic"

	// OAuth2Type indicates OAuth2 client-credentials authentication.
	OAuth2Type AuthType = "oauth2"
)

// Auth is the interface all auth methods implement. Credentials are never
// logged by the client; they pass through to the protocol implementation.
type Auth interface {
	// Type returns the authentication type.
	Type() AuthType

	// Validate checks that all required fields are set.
	Validate() error
}

// ApiKeyAuth holds config for API key-based authentication.
type ApiKeyAuth struct {
	AuthType AuthType `json:"auth_type"`
	APIKey   string   `json:"api_key"`
	VarName  string   `json:"var_name"`  // Header/query param/cookie name (default: "X-Api-Key").
	Location string   `json:"location"`  // Where to include the key: header, query, or cookie.
}

// NewApiKeyAuth constructs an ApiKeyAuth with defaults.
func NewApiKeyAuth(apiKey string) *ApiKeyAuth {
	return &ApiKeyAuth{
		AuthType: APIKeyType,
		APIKey:   apiKey,
		VarName:  "X-Api-Key",
		Location: "header",
	}
}

// Type returns the auth type.
func (a *ApiKeyAuth) Type() AuthType {
	return APIKeyType
}

// Validate ensures required fields are present.
func (a *ApiKeyAuth) Validate() error {
	if a.APIKey == "" {
		return errors.New("api_key must be provided")
	}
	switch a.Location {
	case "header", "query", "cookie":
	default:
		return errors.New("location must be 'header', 'query', or 'cookie'")
	}
	return nil
}

// BasicAuth holds config for HTTP Basic authentication.
type BasicAuth struct {
	AuthType AuthType `json:"auth_type"`
	Username string   `json:"username"`
	Password string   `json:"password"`
}

// NewBasicAuth constructs a BasicAuth.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{
		AuthType: BasicType,
		Username: username,
		Password: password,
	}
}

// Type returns the auth type.
func (b *BasicAuth) Type() AuthType {
	return BasicType
}

// Validate ensures required fields are present.
func (b *BasicAuth) Validate() error {
	if b.Username == "" {
		return errors.New("username must be provided")
	}
	if b.Password == "" {
		return errors.New("password must be provided")
	}
	return nil
}

// OAuth2Auth holds config for the OAuth2 client-credentials flow.
type OAuth2Auth struct {
	AuthType     AuthType `json:"auth_type"`
	TokenURL     string   `json:"token_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scope        *string  `json:"scope,omitempty"`
}

// NewOAuth2Auth constructs an OAuth2Auth.
func NewOAuth2Auth(tokenURL, clientID, clientSecret string, scope *string) *OAuth2Auth {
	return &OAuth2Auth{
		AuthType:     OAuth2Type,
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        scope,
	}
}

// Type returns the auth type.
func (o *OAuth2Auth) Type() AuthType {
	return OAuth2Type
}

// Validate ensures required fields are present.
func (o *OAuth2Auth) Validate() error {
	if o.TokenURL == "" {
		return errors.New("token_url must be provided")
	}
	if o.ClientID == "" {
		return errors.New("client_id must be provided")
	}
	if o.ClientSecret == "" {
		return errors.New("client_secret must be provided")
	}
	return nil
}

// Unmarshal inspects "auth_type" and returns the right variant.
func Unmarshal(data []byte) (Auth, error) {
	var head struct {
		AuthType AuthType `json:"auth_type"`
	}
	if err := codec.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.AuthType {
	case APIKeyType:
		a := &ApiKeyAuth{VarName: "X-Api-Key", Location: "header"}
		if err := codec.Unmarshal(data, a); err != nil {
			return nil, err
		}
		return a, nil
	case BasicType:
		a := &BasicAuth{}
		if err := codec.Unmarshal(data, a); err != nil {
			return nil, err
		}
		return a, nil
	case OAuth2Type:
		a := &OAuth2Auth{}
		if err := codec.Unmarshal(data, a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, errors.New("unsupported auth_type: " + string(head.AuthType))
	}
}
