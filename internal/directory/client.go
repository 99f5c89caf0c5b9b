// Package directory talks to the room directory of the signaling server.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/immxrtalbeast/peerplay/internal/api/http/converter"
	"github.com/immxrtalbeast/peerplay/internal/domain"
	"github.com/immxrtalbeast/peerplay/lib/logger/sl"
)

var ErrNotFound = errors.New("room not listed")

const defaultTimeout = 5 * time.Second

type Client struct {
	base *url.URL
	http *http.Client
	log  *slog.Logger
}

func NewClient(baseURL string, log *slog.Logger) (*Client, error) {
	const op = "directory.client.new"
	if log == nil {
		log = slog.Default()
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s: unsupported scheme %q", op, u.Scheme)
	}
	return &Client{
		base: u,
		http: &http.Client{Timeout: defaultTimeout},
		log:  log,
	}, nil
}

type roomResponse struct {
	Room  *converter.ListingResponse   `json:"room"`
	Rooms []*converter.ListingResponse `json:"rooms"`
	Error string                       `json:"error"`
}

// Publish advertises or refreshes a listing.
func (c *Client) Publish(ctx context.Context, listing domain.Listing) error {
	const op = "directory.client.publish"
	_, err := c.do(ctx, http.MethodPost, "/api/rooms", nil, converter.PublishRequestFromListing(listing))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Withdraw removes a listing. A listing that already expired is not an error.
func (c *Client) Withdraw(ctx context.Context, roomID string) error {
	const op = "directory.client.withdraw"
	_, err := c.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(roomID), nil, nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Resolve maps a room code to its listing.
func (c *Client) Resolve(ctx context.Context, code string) (domain.Listing, error) {
	const op = "directory.client.resolve"
	resp, err := c.do(ctx, http.MethodGet, "/api/rooms/code/"+url.PathEscape(code), nil, nil)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Room == nil {
		return domain.Listing{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return converter.ListingFromApi(resp.Room), nil
}

// List returns the open rooms for game, or for every game when empty.
func (c *Client) List(ctx context.Context, game string) ([]domain.Listing, error) {
	const op = "directory.client.list"
	q := url.Values{"joinable": {"true"}}
	if game != "" {
		q.Set("game", game)
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/rooms", q, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]domain.Listing, 0, len(resp.Rooms))
	for _, r := range resp.Rooms {
		out = append(out, converter.ListingFromApi(r))
	}
	return out, nil
}

// KeepAlive republishes whatever source reports every interval until ctx
// ends, so a quiet room does not expire from the directory.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration, source func() (domain.Listing, bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			listing, ok := source()
			if !ok {
				continue
			}
			if err := c.Publish(ctx, listing); err != nil {
				c.log.Warn("refresh room listing", slog.String("room_id", listing.RoomID), sl.Err(err))
			}
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*roomResponse, error) {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var out roomResponse
	if res.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case res.StatusCode >= 300:
		return nil, fmt.Errorf("directory responded %d: %s", res.StatusCode, out.Error)
	}
	return &out, nil
}
