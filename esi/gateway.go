package esi

import (
	"context"
	"log/slog"

	"github.com/evetools/waitlist/models"
	"gorm.io/gorm"
)

// Gateway performs authenticated ESI calls on behalf of stored characters.
// It wires the TokenManager in front of the Client and owns the single-retry
// rule for rejected access tokens.
type Gateway struct {
	db     *gorm.DB
	client *Client
	tokens *TokenManager
	logger *slog.Logger
}

func NewGateway(db *gorm.DB, client *Client, tokens *TokenManager, logger *slog.Logger) *Gateway {
	return &Gateway{db: db, client: client, tokens: tokens, logger: logger}
}

// Invoke performs the operation with a valid token for the character,
// decoding the response into out.
//
// If the upstream rejects a token we just validated, the token was revoked
// out from under us. The stored credential is forced to look expired, a
// fresh token obtained, and the call retried exactly once; a second
// rejection is a real auth failure.
func (g *Gateway) Invoke(ctx context.Context, characterID int64, op Operation, out any) error {
	return g.invoke(ctx, characterID, op, func(token string) error {
		return g.client.Do(ctx, op, token, out)
	})
}

// InvokeRaw is Invoke for callers that keep the raw response body.
func (g *Gateway) InvokeRaw(ctx context.Context, characterID int64, op Operation) ([]byte, error) {
	var raw []byte
	err := g.invoke(ctx, characterID, op, func(token string) error {
		var err error
		raw, err = g.client.DoRaw(ctx, op, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (g *Gateway) invoke(ctx context.Context, characterID int64, op Operation, call func(token string) error) error {
	token, err := g.tokens.EnsureValid(ctx, characterID, op.Scopes)
	if err != nil {
		return err
	}
	err = call(token)
	if err == nil || KindOf(err) != KindAuthFailure {
		return err
	}

	g.logger.InfoContext(ctx, "access token rejected, forcing refresh",
		"operation", op.ID, "character_id", characterID)
	if err := models.NewCredentials(g.db).ExpireLatest(characterID); err != nil {
		return &Error{Kind: KindAuthFailure, Operation: op.ID, Err: err}
	}
	token, err = g.tokens.EnsureValid(ctx, characterID, op.Scopes)
	if err != nil {
		return &Error{Kind: KindAuthFailure, Operation: op.ID, Err: err}
	}
	return call(token)
}
