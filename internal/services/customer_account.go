package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const customerAccountScopes = "customer-account-api:full"

// ErrNonceMismatch is returned when the id_token nonce differs from the one issued.
var ErrNonceMismatch = errors.New("id_token nonce mismatch")

// CustomerAccountConfig configures the Customer Account API OAuth client.
type CustomerAccountConfig struct {
	ShopID      string
	ClientID    string
	RedirectURL string
	Issuer      string
	JWKSURL     string
	APIVersion  string
	// APIBaseURL overrides https://shopify.com for the profile endpoint.
	APIBaseURL string
}

// AccountTokens are the tokens returned by the code exchange.
type AccountTokens struct {
	AccessToken string
	IDToken     string
}

// AccountIdentity is the verified identity carried in an id_token.
type AccountIdentity struct {
	Subject string
	Email   string
}

// AccountProfile is the customer's profile from the Customer Account API.
type AccountProfile struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// CustomerAccount implements the Shopify Customer Account OAuth flow with PKCE.
type CustomerAccount struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	issuer   string
	endpoint string
}

// NewCustomerAccount builds the OAuth client. Keys are fetched lazily from the
// JWKS endpoint, so no network call happens here.
func NewCustomerAccount(ctx context.Context, cfg CustomerAccountConfig) (*CustomerAccount, error) {
	if cfg.ClientID == "" || cfg.ShopID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("customer account config missing required fields")
	}

	issuer := strings.TrimSuffix(cfg.Issuer, "/")
	if issuer == "" {
		issuer = "https://shopify.com/authentication/" + cfg.ShopID
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}
	base := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if base == "" {
		base = "https://shopify.com"
	}

	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)

	return &CustomerAccount{
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   issuer + "/oauth/authorize",
				TokenURL:  issuer + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{oidc.ScopeOpenID, "email", customerAccountScopes},
		},
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: cfg.ClientID}),
		issuer:   issuer,
		endpoint: fmt.Sprintf("%s/%s/account/customer/api/%s/graphql", base, cfg.ShopID, cfg.APIVersion),
	}, nil
}

// AuthCodeURL builds the authorize URL with PKCE and nonce parameters.
func (a *CustomerAccount) AuthCodeURL(state, challenge, nonce string) string {
	return a.oauth.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oidc.Nonce(nonce),
	)
}

// Exchange trades the authorization code and PKCE verifier for tokens.
func (a *CustomerAccount) Exchange(ctx context.Context, code, verifier string) (*AccountTokens, error) {
	token, err := a.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, errors.New("token response did not include id_token")
	}

	return &AccountTokens{AccessToken: token.AccessToken, IDToken: rawIDToken}, nil
}

// VerifyIDToken checks the id_token signature, issuer, audience, expiry and nonce.
func (a *CustomerAccount) VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*AccountIdentity, error) {
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	if nonce == "" || subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, ErrNonceMismatch
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id_token claims: %w", err)
	}

	return &AccountIdentity{Subject: idToken.Subject, Email: claims.Email}, nil
}

// FetchCustomer loads the signed-in customer's profile.
func (a *CustomerAccount) FetchCustomer(ctx context.Context, accessToken string) (*AccountProfile, error) {
	client := NewShopifyClient(a.endpoint, "Authorization", accessToken)

	data, err := Query[struct {
		Customer *struct {
			ID           string `json:"id"`
			FirstName    string `json:"firstName"`
			LastName     string `json:"lastName"`
			EmailAddress *struct {
				EmailAddress string `json:"emailAddress"`
			} `json:"emailAddress"`
		} `json:"customer"`
	}](ctx, client, `query { customer { id firstName lastName emailAddress { emailAddress } } }`, nil)
	if err != nil {
		return nil, err
	}
	if data.Customer == nil {
		return nil, fmt.Errorf("customer: %w", ErrNotFound)
	}

	profile := &AccountProfile{
		ID:        data.Customer.ID,
		FirstName: data.Customer.FirstName,
		LastName:  data.Customer.LastName,
	}
	if data.Customer.EmailAddress != nil {
		profile.Email = data.Customer.EmailAddress.EmailAddress
	}
	return profile, nil
}

// LogoutURL ends the Shopify-side session and returns to redirect.
func (a *CustomerAccount) LogoutURL(idToken, redirect string) string {
	q := url.Values{}
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if redirect != "" {
		q.Set("post_logout_redirect_uri", redirect)
	}
	if len(q) == 0 {
		return a.issuer + "/logout"
	}
	return a.issuer + "/logout?" + q.Encode()
}
