package coedit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/grandcat/zeroconf"
)

// Where lobby hosts announce themselves and peers look them up.
type LobbyDirectory interface {
	// returns a function that withdraws the announcement
	Advertise(lobby *LobbyInfo, port int) (func(), error)
	Browse(ctx context.Context, filter LobbyFilter) ([]*LobbyInfo, error)
}

// A fixed set of known lobbies, e.g. from the command line.
type StaticLobbyDirectory struct {
	stateLock sync.Mutex
	lobbies   []*LobbyInfo
}

func NewStaticLobbyDirectory(lobbies ...*LobbyInfo) *StaticLobbyDirectory {
	return &StaticLobbyDirectory{
		lobbies: lobbies,
	}
}

func (self *StaticLobbyDirectory) Advertise(lobby *LobbyInfo, port int) (func(), error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	lobbyCopy := *lobby
	self.lobbies = append(self.lobbies, &lobbyCopy)
	return func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		lobbies := []*LobbyInfo{}
		for _, l := range self.lobbies {
			if l.LobbyId != lobby.LobbyId {
				lobbies = append(lobbies, l)
			}
		}
		self.lobbies = lobbies
	}, nil
}

func (self *StaticLobbyDirectory) Browse(ctx context.Context, filter LobbyFilter) ([]*LobbyInfo, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	lobbies := []*LobbyInfo{}
	for _, lobby := range self.lobbies {
		// an address-only entry matches any filter
		if lobby.LobbyId == "" || filter.Matches(lobby) {
			lobbyCopy := *lobby
			lobbies = append(lobbies, &lobbyCopy)
		}
	}
	return lobbies, nil
}

const DefaultZeroconfService = "_coedit._tcp"
const DefaultZeroconfDomain = "local."

type ZeroconfLobbyDirectorySettings struct {
	Service       string
	Domain        string
	BrowseTimeout time.Duration
}

func DefaultZeroconfLobbyDirectorySettings() *ZeroconfLobbyDirectorySettings {
	return &ZeroconfLobbyDirectorySettings{
		Service:       DefaultZeroconfService,
		Domain:        DefaultZeroconfDomain,
		BrowseTimeout: 2 * time.Second,
	}
}

// Lobbies announced with multicast DNS on the local network.
type ZeroconfLobbyDirectory struct {
	settings *ZeroconfLobbyDirectorySettings
}

func NewZeroconfLobbyDirectoryWithDefaults() *ZeroconfLobbyDirectory {
	return NewZeroconfLobbyDirectory(DefaultZeroconfLobbyDirectorySettings())
}

func NewZeroconfLobbyDirectory(settings *ZeroconfLobbyDirectorySettings) *ZeroconfLobbyDirectory {
	return &ZeroconfLobbyDirectory{
		settings: settings,
	}
}

func lobbyTxt(lobby *LobbyInfo) []string {
	return []string{
		"lobby=" + lobby.LobbyId.String(),
		"name=" + lobby.Name,
		"mode=" + lobby.Mode,
		"owner=" + lobby.OwnerId.String(),
		"capacity=" + strconv.Itoa(lobby.Capacity),
	}
}

func lobbyFromTxt(txt []string) (*LobbyInfo, error) {
	values := map[string]string{}
	for _, entry := range txt {
		if key, value, ok := strings.Cut(entry, "="); ok {
			values[key] = value
		}
	}
	lobbyId, err := ParseLobbyId(values["lobby"])
	if err != nil {
		return nil, err
	}
	lobby := &LobbyInfo{
		LobbyId: lobbyId,
		Name:    values["name"],
		Mode:    values["mode"],
	}
	if ownerStr, ok := values["owner"]; ok {
		if lobby.OwnerId, err = ParsePeerId(ownerStr); err != nil {
			return nil, err
		}
	}
	if capacityStr, ok := values["capacity"]; ok {
		if lobby.Capacity, err = strconv.Atoi(capacityStr); err != nil {
			return nil, fmt.Errorf("Bad capacity %q: %w", capacityStr, err)
		}
	}
	return lobby, nil
}

func (self *ZeroconfLobbyDirectory) Advertise(lobby *LobbyInfo, port int) (func(), error) {
	server, err := zeroconf.Register(
		lobby.LobbyId.String(),
		self.settings.Service,
		self.settings.Domain,
		port,
		lobbyTxt(lobby),
		nil,
	)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[lobby]advertise %s port %d\n", lobby.LobbyId, port)
	return server.Shutdown, nil
}

func (self *ZeroconfLobbyDirectory) Browse(ctx context.Context, filter LobbyFilter) ([]*LobbyInfo, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, err
	}

	browseCtx, browseCancel := context.WithTimeout(ctx, self.settings.BrowseTimeout)
	defer browseCancel()

	entries := make(chan *zeroconf.ServiceEntry)

	stateLock := sync.Mutex{}
	lobbies := []*LobbyInfo{}
	seen := map[LobbyId]bool{}
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case <-browseCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				lobby, err := lobbyFromTxt(entry.Text)
				if err != nil {
					glog.V(1).Infof("[lobby]skip %s = %s\n", entry.Instance, err)
					continue
				}
				if len(entry.AddrIPv4) == 0 {
					continue
				}
				lobby.Address = fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
				stateLock.Lock()
				if !seen[lobby.LobbyId] && filter.Matches(lobby) {
					seen[lobby.LobbyId] = true
					lobbies = append(lobbies, lobby)
				}
				stateLock.Unlock()
			}
		}
	}()

	if err := resolver.Browse(browseCtx, self.settings.Service, self.settings.Domain, entries); err != nil {
		return nil, err
	}
	<-browseCtx.Done()
	<-collected

	stateLock.Lock()
	defer stateLock.Unlock()
	return lobbies, nil
}
