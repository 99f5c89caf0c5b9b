package engine

import (
	"fmt"
	"sort"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

type Descriptor struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
}

type Catalog struct {
	games map[string]Descriptor
}

func NewCatalog(games ...Descriptor) *Catalog {
	c := &Catalog{games: make(map[string]Descriptor, len(games))}
	for _, g := range games {
		c.games[g.Slug] = g
	}
	return c
}

func (c *Catalog) Add(d Descriptor) {
	c.games[d.Slug] = d
}

func (c *Catalog) Lookup(slug string) (Descriptor, bool) {
	d, ok := c.games[slug]
	return d, ok
}

func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, 0, len(c.games))
	for _, g := range c.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// RoomConfig derives the membership limits of a new room for slug.
func (c *Catalog) RoomConfig(slug string, private bool) (domain.RoomConfig, error) {
	d, ok := c.games[slug]
	if !ok {
		return domain.RoomConfig{}, fmt.Errorf("%w: %s", ErrUnknownGame, slug)
	}
	return domain.RoomConfig{
		MinPlayers: d.MinPlayers,
		MaxPlayers: d.MaxPlayers,
		IsPrivate:  private,
	}, nil
}
