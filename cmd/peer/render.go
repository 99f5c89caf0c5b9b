package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/internal/engine"
	"github.com/immxrtalbeast/peerplay/internal/engine/tictactoe"
	"github.com/skip2/go-qrcode"
)

var (
	markX   = color.New(color.FgGreen, color.Bold).SprintFunc()
	markO   = color.New(color.FgYellow, color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	notice  = color.New(color.FgCyan).SprintFunc()
	warning = color.New(color.FgRed).SprintFunc()
)

func renderBoard(w io.Writer, st *tictactoe.State, selfID string) {
	marks := make(map[string]string, len(st.Seats))
	names := make(map[string]string, len(st.Seats))
	for _, s := range st.Seats {
		marks[s.ID] = s.Mark
		names[s.ID] = s.Name
	}

	var b strings.Builder
	b.WriteString("\n")
	for row := 0; row < 3; row++ {
		cells := make([]string, 3)
		for col := 0; col < 3; col++ {
			i := row*3 + col
			switch marks[st.Board[i]] {
			case "X":
				cells[col] = markX("X")
			case "O":
				cells[col] = markO("O")
			default:
				cells[col] = faint(strconv.Itoa(i))
			}
		}
		b.WriteString(" " + strings.Join(cells, " | ") + "\n")
		if row < 2 {
			b.WriteString("---+---+---\n")
		}
	}

	switch {
	case st.Status == engine.StatusFinished && st.IsDraw:
		b.WriteString(notice("Draw. Type 'rematch' to play again.") + "\n")
	case st.Status == engine.StatusFinished:
		b.WriteString(notice(names[st.Winner]+" wins. Type 'rematch' to play again.") + "\n")
	case st.CurrentTurn == selfID:
		b.WriteString(notice("Your move (place 0-8).") + "\n")
	default:
		b.WriteString("Waiting for " + names[st.CurrentTurn] + ".\n")
	}
	fmt.Fprint(w, b.String())
}

func renderRoster(w io.Writer, room *domain.Room) {
	if room == nil {
		return
	}
	fmt.Fprintf(w, "Room %s (%s, %s) %d/%d\n", room.Code, room.GameSlug, room.Status, len(room.Players), room.Config.MaxPlayers)
	for _, p := range room.Players {
		flags := make([]string, 0, 3)
		if p.IsHost {
			flags = append(flags, "host")
		}
		if p.IsReady {
			flags = append(flags, "ready")
		}
		if !p.IsConnected {
			flags = append(flags, warning("offline"))
		}
		fmt.Fprintf(w, "  %-16s %s\n", p.Nickname, faint(strings.Join(flags, ", ")))
	}
}

// renderCode prints the room code as text and as a terminal QR code.
func renderCode(w io.Writer, code string) {
	fmt.Fprintf(w, "Room code: %s\n", notice(code))
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return
	}
	fmt.Fprint(w, qr.ToSmallString(false))
}
