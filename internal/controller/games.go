package controller

import (
	"fmt"
	"log/slog"

	"github.com/immxrtalbeast/peerplay/internal/engine"
	"github.com/immxrtalbeast/peerplay/internal/session"
)

// SessionFactory builds a game session that talks through sender.
type SessionFactory func(sender session.Sender, log *slog.Logger) session.GameSession

// Games pairs the catalog with a session factory per game.
type Games struct {
	catalog   *engine.Catalog
	factories map[string]SessionFactory
}

func NewGames() *Games {
	return &Games{
		catalog:   engine.NewCatalog(),
		factories: make(map[string]SessionFactory),
	}
}

func (g *Games) Register(d engine.Descriptor, factory SessionFactory) {
	g.catalog.Add(d)
	g.factories[d.Slug] = factory
}

func (g *Games) Catalog() *engine.Catalog {
	return g.catalog
}

func (g *Games) newSession(slug string, sender session.Sender, log *slog.Logger) (session.GameSession, error) {
	f, ok := g.factories[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownGame, slug)
	}
	return f(sender, log), nil
}
