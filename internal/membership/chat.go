package membership

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/immxrtalbeast/peerplay/internal/domain"
)

// SendChat posts text to the room. The message is recorded locally and
// delivered through the host, which relays it to everyone else.
func (m *Manager) SendChat(text string) (*domain.ChatMessage, error) {
	const op = "membership.manager.send_chat"

	text, err := m.normalizeChat(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	if !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrNotInRoom)
	}
	payload := domain.ChatPayload{Text: text, SenderName: m.profile.Nickname, SenderAvatar: m.profile.Avatar}
	if m.isHost {
		m.broadcastLocked(domain.MsgChat, payload)
	} else if err := m.transport.Send(m.room.HostPeerID, domain.MsgChat, payload); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	msg := domain.NewChatMessage(m.room.ID, m.transport.ID(), payload, m.now())
	m.appendChatLocked(*msg)
	m.mu.Unlock()

	m.emit(Event{Kind: EventChat, Chat: msg})
	return msg, nil
}

// HandleChat records an incoming chat line. The host accepts lines from
// roster peers and relays them; a guest accepts lines only from the host.
func (m *Manager) HandleChat(senderID string, p domain.ChatPayload) {
	text, err := m.normalizeChat(p.Text)
	if err != nil {
		return
	}
	p.Text = text

	m.mu.Lock()
	if !m.inRoom || m.room == nil {
		m.mu.Unlock()
		return
	}
	if m.isHost {
		if m.room.PlayerByPeer(senderID) < 0 {
			m.mu.Unlock()
			return
		}
		m.broadcastLocked(domain.MsgChat, p, senderID)
	} else if senderID != m.room.HostPeerID {
		m.mu.Unlock()
		return
	}
	msg := domain.NewChatMessage(m.room.ID, senderID, p, m.now())
	m.appendChatLocked(*msg)
	m.mu.Unlock()

	m.emit(Event{Kind: EventChat, Chat: msg})
}

// ChatHistory returns the most recent chat lines, oldest first.
func (m *Manager) ChatHistory() []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatMessage(nil), m.chat...)
}

func (m *Manager) normalizeChat(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > m.cfg.MaxChatLength {
		return "", ErrInvalidChat
	}
	return text, nil
}

func (m *Manager) appendChatLocked(msg domain.ChatMessage) {
	m.chat = append(m.chat, msg)
	if over := len(m.chat) - chatHistoryLimit; over > 0 {
		m.chat = append([]domain.ChatMessage(nil), m.chat[over:]...)
	}
}
