package gcal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
)

// ErrNotConnected means the lawyer never linked a Google calendar.
var ErrNotConnected = errors.New("calendar not connected")

// TokenStore persists the OAuth tokens of connected lawyers.
type TokenStore interface {
	Token(ctx context.Context, lawyerID string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, lawyerID string, tok *oauth2.Token) error
}

type PgTokenStore struct {
	pool *pgxpool.Pool
}

func NewPgTokenStore(pool *pgxpool.Pool) *PgTokenStore {
	return &PgTokenStore{pool: pool}
}

func (s *PgTokenStore) Token(ctx context.Context, lawyerID string) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, token_type, expiry
		FROM calendar_connections
		WHERE lawyer_id = $1
	`, lawyerID).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("load calendar token: %w", err)
	}
	if expiry != nil {
		tok.Expiry = *expiry
	}
	return &tok, nil
}

// SaveToken upserts tok. An empty refresh token keeps the stored one, since
// Google only returns it on the first consent.
func (s *PgTokenStore) SaveToken(ctx context.Context, lawyerID string, tok *oauth2.Token) error {
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		expiry = &tok.Expiry
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_connections (lawyer_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (lawyer_id) DO UPDATE
		SET access_token  = EXCLUDED.access_token,
		    refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), calendar_connections.refresh_token),
		    token_type    = EXCLUDED.token_type,
		    expiry        = EXCLUDED.expiry,
		    updated_at    = now()
	`, lawyerID, tok.AccessToken, tok.RefreshToken, tok.Type(), expiry)
	if err != nil {
		return fmt.Errorf("save calendar token: %w", err)
	}
	return nil
}

// persistingSource saves refreshed tokens back to the store.
type persistingSource struct {
	ctx      context.Context
	base     oauth2.TokenSource
	store    TokenStore
	lawyerID string
	last     string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.store.SaveToken(p.ctx, p.lawyerID, tok); err != nil {
			return nil, err
		}
	}
	return tok, nil
}
