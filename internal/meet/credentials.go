package meet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	rferrors "github.com/Lllllllleong/meetingrecordingflow/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	meetapi "google.golang.org/api/meet/v2"
	"google.golang.org/api/option"
)

const googleProviderID = "google"

// Scopes requested when users link their Google account.
var Scopes = []string{
	"https://www.googleapis.com/auth/meetings.space.readonly",
}

// TokenStore persists users' Google OAuth tokens.
type TokenStore interface {
	// Load returns errors.ErrNotFound when the user has no linked account.
	Load(ctx context.Context, userID string) (*oauth2.Token, error)
	Save(ctx context.Context, userID string, tok *oauth2.Token) error
}

// account is a linked OAuth account document.
type account struct {
	UserID               string    `firestore:"userId"`
	ProviderID           string    `firestore:"providerId"`
	AccessToken          string    `firestore:"accessToken"`
	RefreshToken         string    `firestore:"refreshToken"`
	AccessTokenExpiresAt time.Time `firestore:"accessTokenExpiresAt"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

// FirestoreTokenStore reads and refreshes tokens in the accounts collection.
type FirestoreTokenStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreTokenStore(client *firestore.Client, collection string) *FirestoreTokenStore {
	return &FirestoreTokenStore{client: client, collection: collection}
}

func (s *FirestoreTokenStore) find(ctx context.Context, userID string) (*firestore.DocumentSnapshot, error) {
	iter := s.client.Collection(s.collection).
		Where("userId", "==", userID).
		Where("providerId", "==", googleProviderID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, fmt.Errorf("%w: no google account linked for user %s", rferrors.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	return snap, nil
}

func (s *FirestoreTokenStore) Load(ctx context.Context, userID string) (*oauth2.Token, error) {
	snap, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	var acct account
	if err := snap.DataTo(&acct); err != nil {
		return nil, fmt.Errorf("decoding account %s: %w", snap.Ref.ID, err)
	}
	return &oauth2.Token{
		AccessToken:  acct.AccessToken,
		RefreshToken: acct.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       acct.AccessTokenExpiresAt,
	}, nil
}

func (s *FirestoreTokenStore) Save(ctx context.Context, userID string, tok *oauth2.Token) error {
	snap, err := s.find(ctx, userID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "accessToken", Value: tok.AccessToken},
		{Path: "accessTokenExpiresAt", Value: tok.Expiry},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	// Google only returns a refresh token on first consent.
	if tok.RefreshToken != "" {
		updates = append(updates, firestore.Update{Path: "refreshToken", Value: tok.RefreshToken})
	}
	if _, err := snap.Ref.Update(ctx, updates); err != nil {
		return fmt.Errorf("updating account %s: %w", snap.Ref.ID, err)
	}
	return nil
}

// GoogleConnector opens Meet API sessions with stored user tokens.
type GoogleConnector struct {
	oauth  *oauth2.Config
	tokens TokenStore
	log    zerolog.Logger
	opts   []option.ClientOption
}

// NewGoogleConnector creates a connector for the OAuth client. Extra client
// options are appended after the token source.
func NewGoogleConnector(clientID, clientSecret string, tokens TokenStore, log zerolog.Logger, opts ...option.ClientOption) *GoogleConnector {
	return &GoogleConnector{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		},
		tokens: tokens,
		log:    log.With().Str("component", "meet-credentials").Logger(),
		opts:   opts,
	}
}

func (c *GoogleConnector) Connect(ctx context.Context, userID string) (Platform, error) {
	ts, err := c.TokenSource(ctx, userID)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	svc, err := meetapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating meet service: %w", err)
	}
	return NewGooglePlatform(svc, userID), nil
}

// TokenSource returns a token source for userID that writes refreshed tokens
// back to the store. The token is refreshed eagerly so an unusable credential
// surfaces here as *errors.CredentialExpiredError.
func (c *GoogleConnector) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	tok, err := c.tokens.Load(ctx, userID)
	if err != nil {
		if rferrors.IsNotFound(err) {
			return nil, &rferrors.CredentialExpiredError{UserID: userID, Cause: err}
		}
		return nil, err
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, &rferrors.CredentialExpiredError{UserID: userID, Cause: fmt.Errorf("account has no tokens")}
	}
	if !tok.Valid() && tok.RefreshToken == "" {
		return nil, &rferrors.CredentialExpiredError{UserID: userID, Cause: fmt.Errorf("access token expired and no refresh token is stored")}
	}

	ts := newPersistingTokenSource(c.oauth.TokenSource(context.WithoutCancel(ctx), tok), tok, func(t *oauth2.Token) {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.tokens.Save(saveCtx, userID, t); err != nil {
			c.log.Error().Err(err).Str("userId", userID).Msg("Failed to persist refreshed token.")
			return
		}
		c.log.Info().Str("userId", userID).Time("expiry", t.Expiry).Msg("Persisted refreshed token.")
	})
	if _, err := ts.Token(); err != nil {
		return nil, &rferrors.CredentialExpiredError{UserID: userID, Cause: err}
	}
	return ts, nil
}

// persistingTokenSource calls save whenever the wrapped source hands out a
// new access token.
type persistingTokenSource struct {
	base oauth2.TokenSource
	save func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func newPersistingTokenSource(base oauth2.TokenSource, initial *oauth2.Token, save func(*oauth2.Token)) *persistingTokenSource {
	return &persistingTokenSource{base: base, save: save, last: initial.AccessToken}
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	changed := tok.AccessToken != p.last
	if changed {
		p.last = tok.AccessToken
	}
	p.mu.Unlock()

	if changed {
		p.save(tok)
	}
	return tok, nil
}
