package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

// identity is what must survive between runs for resume to work: the
// player's stable odId and the transport address the host was reachable at.
type identity struct {
	Profile domain.Profile `json:"profile"`
	PeerID  string         `json:"peerId"`
}

func identityPath(storePath string) string {
	return filepath.Join(filepath.Dir(storePath), "identity.json")
}

func loadIdentity(path, nickname, avatar string) (*identity, error) {
	const op = "peer.identity.load"

	var id identity
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if id.Profile.OdID == "" {
		if nickname == "" {
			nickname = "Player"
		}
		id.Profile = domain.NewProfile(nickname, avatar)
	}
	if nickname != "" {
		id.Profile.Nickname = nickname
	}
	if avatar != "" {
		id.Profile.Avatar = avatar
	}
	return &id, nil
}

func (id *identity) save(path string) error {
	const op = "peer.identity.save"
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
