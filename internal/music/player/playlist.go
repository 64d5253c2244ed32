package player

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

var (
	ErrUnknownPlaylist = errors.New("unknown playlist")
	ErrPlaylistExists  = errors.New("playlist already exists")
	ErrPlaylistName    = errors.New("a playlist name is required")
	ErrEmptyPlaylist   = errors.New("playlist is empty")
)

// Playlists holds a session's named lists of queries. Names are case
// insensitive. Lists live as long as the session and are never saved.
type Playlists struct {
	mu    sync.Mutex
	lists map[string][]string
}

func playlistKey(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", ErrPlaylistName
	}
	return key, nil
}

// Create adds an empty playlist.
func (p *Playlists) Create(name string) error {
	key, err := playlistKey(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lists[key]; ok {
		return fmt.Errorf("%w: %s", ErrPlaylistExists, key)
	}
	if p.lists == nil {
		p.lists = make(map[string][]string)
	}
	p.lists[key] = nil
	return nil
}

// Add appends query to the playlist and returns its new length.
func (p *Playlists) Add(name, query string) (int, error) {
	key, err := playlistKey(name)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	list, ok := p.lists[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPlaylist, key)
	}
	p.lists[key] = append(list, query)
	return len(list) + 1, nil
}

// Tracks returns a copy of the playlist's queries in insertion order.
func (p *Playlists) Tracks(name string) ([]string, error) {
	key, err := playlistKey(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	list, ok := p.lists[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlaylist, key)
	}
	return slices.Clone(list), nil
}

// Names returns every playlist name, sorted.
func (p *Playlists) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := lo.Keys(p.lists)
	slices.Sort(names)
	return names
}
