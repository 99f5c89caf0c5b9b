package main

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/immxrtalbeast/peerplay/internal/config"
	"github.com/pion/turn/v4"
)

// startTURN runs a UDP relay for peers whose NAT defeats a direct data
// channel. Credentials come from the static user list.
func startTURN(cfg config.TURNConfig, log *slog.Logger) (*turn.Server, error) {
	const op = "signaling.turn.start"

	relayIP := net.ParseIP(cfg.PublicIP)
	if relayIP == nil {
		return nil, fmt.Errorf("%s: invalid public ip %q", op, cfg.PublicIP)
	}
	if len(cfg.Users) == 0 {
		return nil, fmt.Errorf("%s: no turn users configured", op)
	}

	keys := make(map[string][]byte, len(cfg.Users))
	for user, pass := range cfg.Users {
		keys[user] = turn.GenerateAuthKey(user, cfg.Realm, pass)
	}

	conn, err := net.ListenPacket("udp4", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	server, err := turn.NewServer(turn.ServerConfig{
		Realm: cfg.Realm,
		AuthHandler: func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
			key, ok := keys[username]
			if !ok {
				log.Debug("turn auth rejected", slog.String("user", username), slog.String("addr", srcAddr.String()))
			}
			return key, ok
		},
		PacketConnConfigs: []turn.PacketConnConfig{{
			PacketConn: conn,
			RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
				RelayAddress: relayIP,
				Address:      "0.0.0.0",
			},
		}},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("turn relay listening", slog.String("op", op), slog.String("addr", cfg.Address), slog.String("realm", cfg.Realm))
	return server, nil
}
