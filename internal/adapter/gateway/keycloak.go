package gateway

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/gentlecorp/shopping-cart/internal/core/domain"
)

type KeycloakConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// KeycloakClient performs password-grant logins. Client credentials are sent
// as HTTP Basic.
type KeycloakClient struct {
	oauth  oauth2.Config
	http   *http.Client
	logger *zap.Logger
}

func NewKeycloakClient(cfg KeycloakConfig, httpClient *http.Client, logger *zap.Logger) *KeycloakClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeycloakClient{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		http:   httpClient,
		logger: logger.With(zap.String("service", "keycloak")),
	}
}

// Login returns ok == false on any failure.
func (k *KeycloakClient) Login(ctx context.Context, username, password string) (domain.TokenSet, bool) {
	if username == "" || password == "" {
		return domain.TokenSet{}, false
	}

	token, err := k.oauth.PasswordCredentialsToken(k.context(ctx), username, password)
	if err != nil {
		k.logger.Warn("login failed", zap.String("username", username), zap.Error(err))
		return domain.TokenSet{}, false
	}

	return tokenSet(token), true
}

// Refresh returns ok == false when the refresh token is empty or rejected.
func (k *KeycloakClient) Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, bool) {
	if refreshToken == "" {
		return domain.TokenSet{}, false
	}

	// an empty access token forces the source to use the refresh grant
	source := k.oauth.TokenSource(k.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		k.logger.Warn("refresh failed", zap.Error(err))
		return domain.TokenSet{}, false
	}

	return tokenSet(token), true
}

func (k *KeycloakClient) context(ctx context.Context) context.Context {
	if k.http == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, k.http)
}

func tokenSet(token *oauth2.Token) domain.TokenSet {
	return domain.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
}
