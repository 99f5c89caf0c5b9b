package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/immxrtalbeast/peerplay/internal/config"
	"github.com/immxrtalbeast/peerplay/internal/controller"
	"github.com/immxrtalbeast/peerplay/internal/directory"
	"github.com/immxrtalbeast/peerplay/internal/engine/tictactoe"
	"github.com/immxrtalbeast/peerplay/internal/health"
	"github.com/immxrtalbeast/peerplay/internal/membership"
	"github.com/immxrtalbeast/peerplay/internal/session"
	"github.com/immxrtalbeast/peerplay/internal/storage"
	"github.com/immxrtalbeast/peerplay/internal/transport"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

// app is one interactive peer: the controller plus terminal I/O.
type app struct {
	out    io.Writer
	log    *slog.Logger
	cfg    *config.Config
	opts   *options
	ctl    *controller.Controller
	dir    *directory.Client
	ident  *identity
	cancel context.CancelFunc

	outMu sync.Mutex
	gone  chan struct{}
	once  sync.Once
}

func newApp(ctx context.Context, opts *options, out io.Writer) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	log := setupLogger(cfg.Env, opts.verbose)

	identPath := identityPath(cfg.Session.StorePath)
	ident, err := loadIdentity(identPath, opts.name, opts.avatar)
	if err != nil {
		return nil, err
	}

	dir, err := newDirectory(cfg, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		out:   out,
		log:   log,
		cfg:   cfg,
		opts:  opts,
		dir:   dir,
		ident: ident,
		gone:  make(chan struct{}),
	}

	tr := transport.NewWebRTCTransport(transport.WebRTCConfig{
		SignalingURL: cfg.Signaling.URL,
		ICEServers:   iceServers(cfg.WebRTC),
		PeerID:       ident.PeerID,
	}, log)

	members := membership.NewManager(tr, storage.NewFileSessionStore(cfg.Session.StorePath), membership.Config{
		JoinTimeout:   cfg.Room.JoinTimeout,
		StartDelay:    cfg.Room.StartDelay,
		MaxChatLength: cfg.Room.MaxChatLength,
	}, log)
	if dir != nil {
		members.SetDirectory(dir)
	}

	monitor := health.NewMonitor(tr, health.Config{
		Interval: cfg.Heartbeat.Interval,
		Timeout:  cfg.Heartbeat.Timeout,
	}, log)

	games := controller.NewGames()
	games.Register(tictactoe.Descriptor, func(sender session.Sender, log *slog.Logger) session.GameSession {
		s := session.New[*tictactoe.State](tictactoe.New(), sender, log)
		s.SetMover(tictactoe.FirstFreeCell{})
		s.OnState(a.showState)
		return s
	})

	a.ctl = controller.New(tr, members, monitor, games, controller.Config{
		ReconnectGrace: cfg.Room.ReconnectGrace,
	}, log)
	a.ctl.OnEvent(a.handleEvent)

	id, err := a.ctl.Start(ctx)
	if err != nil {
		return nil, err
	}
	ident.PeerID = id
	if err := ident.save(identPath); err != nil {
		log.Warn("failed to save identity", sl.Err(err))
	}
	return a, nil
}

func newDirectory(cfg *config.Config, log *slog.Logger) (*directory.Client, error) {
	if cfg.Directory.URL == "" {
		return nil, nil
	}
	return directory.NewClient(cfg.Directory.URL, log)
}

func iceServers(cfg config.WebRTCConfig) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, 2)
	if len(cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}
	if len(cfg.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       cfg.TURNServers,
			Username:   cfg.Username,
			Credential: cfg.Credential,
		})
	}
	return servers
}

func (a *app) close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.ctl.Close()
}

func (a *app) host(ctx context.Context) error {
	room, err := a.ctl.Host(ctx, a.ident.Profile, a.opts.game, a.opts.private)
	if err != nil {
		return err
	}
	a.printf("Hosting %s as %s.\n", room.GameSlug, a.ident.Profile.Nickname)
	a.withOut(func(w io.Writer) { renderCode(w, room.Code) })
	a.keepListed(ctx)
	return nil
}

func (a *app) join(ctx context.Context, target string) error {
	hostPeerID := target
	if !a.opts.byPeerID {
		if a.dir == nil {
			return errors.New("no directory configured, use --peer with the host's peer id")
		}
		listing, err := a.dir.Resolve(ctx, target)
		if err != nil {
			return fmt.Errorf("resolve room code %q: %w", target, err)
		}
		hostPeerID = listing.HostPeerID
	}

	room, err := a.ctl.Join(ctx, a.ident.Profile, hostPeerID)
	if err != nil {
		var rejected *membership.RejectedError
		if errors.As(err, &rejected) {
			return fmt.Errorf("the host turned you away: %s", rejected.Reason)
		}
		return err
	}
	a.printf("Joined room %s.\n", room.Code)
	a.withOut(func(w io.Writer) { renderRoster(w, room) })
	return nil
}

func (a *app) resume(ctx context.Context) error {
	room, err := a.ctl.Resume(ctx, a.ident.Profile)
	if err != nil {
		return err
	}
	a.printf("Resumed room %s.\n", room.Code)
	a.withOut(func(w io.Writer) { renderRoster(w, room) })
	if a.ctl.Members().IsHost() {
		a.keepListed(ctx)
	}
	return nil
}

func (a *app) keepListed(ctx context.Context) {
	if a.dir == nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	go a.dir.KeepAlive(ctx, a.cfg.Directory.ListingTTL/2, a.ctl.Members().Listing)
}

// loop reads commands until the user leaves, the room goes away or ctx ends.
func (a *app) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	a.printf("Type 'help' for commands.\n")
	for {
		select {
		case <-ctx.Done():
			return a.ctl.Leave(context.Background())
		case <-a.gone:
			return nil
		case line, ok := <-lines:
			if !ok {
				return a.ctl.Leave(context.Background())
			}
			done, err := a.exec(ctx, line)
			if err != nil {
				a.printf("%s\n", warning(err.Error()))
			}
			if done {
				return nil
			}
		}
	}
}

func (a *app) exec(ctx context.Context, line string) (bool, error) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	members := a.ctl.Members()

	switch strings.ToLower(cmd) {
	case "":
		return false, nil
	case "help":
		a.printf("place <0-8> | ready | start | chat <text> | players | kick <name> | pause | resume | rematch | leave\n")
	case "place", "p":
		cell, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return false, errors.New("usage: place <0-8>")
		}
		return false, a.ctl.Submit(tictactoe.PlaceAction("", cell))
	case "ready":
		ready, err := members.ToggleReady()
		if err != nil {
			return false, err
		}
		a.printf("Ready: %t\n", ready)
	case "start":
		return false, members.StartGame(a.opts.ai)
	case "chat", "say":
		_, err := members.SendChat(rest)
		return false, err
	case "players":
		a.withOut(func(w io.Writer) { renderRoster(w, members.Room()) })
	case "kick":
		for _, p := range members.Players() {
			if strings.EqualFold(p.Nickname, strings.TrimSpace(rest)) {
				return false, members.KickPlayer(p.OdID)
			}
		}
		return false, fmt.Errorf("no player named %q", rest)
	case "pause":
		return false, members.Pause()
	case "resume":
		return false, members.Resume()
	case "rematch":
		return false, a.ctl.Rematch()
	case "leave", "quit", "exit":
		return true, a.ctl.Leave(ctx)
	default:
		if cell, err := strconv.Atoi(cmd); err == nil {
			return false, a.ctl.Submit(tictactoe.PlaceAction("", cell))
		}
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}

func (a *app) handleEvent(ev controller.Event) {
	switch ev.Kind {
	case controller.EventReconnecting:
		a.printf("%s\n", warning("Host unreachable, trying to reconnect..."))
	case controller.EventReconnected:
		a.printf("%s\n", notice("Connection to host restored."))
	case controller.EventConnectionLost:
		a.printf("%s\n", warning("Lost the connection to the host."))
		a.leaveRoom()
	case controller.EventTransportError:
		a.log.Debug("transport error", sl.Err(ev.Err))
	case controller.EventMembership:
		a.handleMembership(*ev.Membership)
	}
}

func (a *app) handleMembership(ev membership.Event) {
	switch ev.Kind {
	case membership.EventPlayerJoined:
		a.printf("%s joined.\n", ev.Player.Nickname)
	case membership.EventPlayerRejoined:
		a.printf("%s is back.\n", ev.Player.Nickname)
	case membership.EventPlayerLeft:
		if ev.Player != nil {
			a.printf("%s left.\n", ev.Player.Nickname)
		}
	case membership.EventRoomUpdated:
		a.withOut(func(w io.Writer) { renderRoster(w, ev.Room) })
	case membership.EventGameStarting:
		a.printf("%s\n", notice("Game starting..."))
	case membership.EventChat:
		a.printf("[%s] %s\n", ev.Chat.SenderName, ev.Chat.Text)
	case membership.EventKicked:
		a.printf("%s\n", warning("You were removed from the room."))
		a.leaveRoom()
	case membership.EventRoomClosed:
		a.printf("%s\n", warning("The host closed the room."))
		a.leaveRoom()
	}
}

func (a *app) showState(st *tictactoe.State) {
	self := a.ctl.Members().Profile().OdID
	a.withOut(func(w io.Writer) { renderBoard(w, st, self) })
}

func (a *app) leaveRoom() {
	a.once.Do(func() { close(a.gone) })
}

func (a *app) printf(format string, args ...any) {
	a.withOut(func(w io.Writer) { fmt.Fprintf(w, format, args...) })
}

func (a *app) withOut(fn func(io.Writer)) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fn(a.out)
}
