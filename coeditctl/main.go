package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/coedit-dev/coedit/coedit"
)

const CoeditCtlVersion = "0.1.0"

func main() {
	usage := fmt.Sprintf(
		`Coedit control.

Mirrors a project directory with the peers editing the same project on the
local network. The first peer to start hosts the lobby.

The default store is %s

Usage:
    coeditctl run --project=<dir> [--name=<project_name>]
        [--display_name=<name>]
        [--listen=<addr>]
        [--join=<addr> | --rejoin]
        [--status_port=<port>]
        [--store=<path>]
        [--tick_ms=<ms>]
    coeditctl lobbies [--name=<project_name>] [--timeout=<seconds>]
    coeditctl profile [--display_name=<name>] [--secret | --new_secret] [--store=<path>]

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --project=<dir>             Project directory to mirror.
    --name=<project_name>       Lobby name. Defaults to the project directory name.
    --display_name=<name>       Name shown to other peers.
    --listen=<addr>             Websocket listen address [default: 0.0.0.0:0].
    --join=<addr>               Join the lobby hosted at host:port instead of browsing.
    --rejoin                    Join the last lobby joined for the project.
    --status_port=<port>        Serve the status endpoint on localhost.
    --store=<path>              Profile store.
    --tick_ms=<ms>              Sync interval [default: 33].
    --timeout=<seconds>         Browse time [default: 2].
    --secret                    Prompt for the identity secret shared by the project peers.
    --new_secret                Generate an identity secret and print it.`,
		defaultStorePath(),
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CoeditCtlVersion)
	if err != nil {
		panic(err)
	}

	if run_, _ := opts.Bool("run"); run_ {
		run(opts)
	} else if lobbies_, _ := opts.Bool("lobbies"); lobbies_ {
		lobbies(opts)
	} else if profile_, _ := opts.Bool("profile"); profile_ {
		profile(opts)
	}
}

func defaultStorePath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "coedit.db"
	}
	return filepath.Join(configDir, "coedit", "coedit.db")
}

func openStore(opts docopt.Opts) *coedit.LocalStore {
	storePath, err := opts.String("--store")
	if err != nil || storePath == "" {
		storePath = defaultStorePath()
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0700); err != nil {
		panic(err)
	}
	store, err := coedit.OpenLocalStore(storePath)
	if err != nil {
		panic(err)
	}
	return store
}

func displayName(opts docopt.Opts, store *coedit.LocalStore) string {
	if name, err := opts.String("--display_name"); err == nil && name != "" {
		return name
	}
	if name, err := store.DisplayName(); err == nil {
		return name
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "coedit"
}

func run(opts docopt.Opts) {
	projectDir, _ := opts.String("--project")
	listenAddress, _ := opts.String("--listen")
	tickMillis, _ := opts.Int("--tick_ms")

	files, err := coedit.NewDirFilesWithDefaults(projectDir)
	if err != nil {
		panic(err)
	}
	projectName, err := opts.String("--name")
	if err != nil || projectName == "" {
		projectName = filepath.Base(files.Root())
	}

	store := openStore(opts)
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	var directory coedit.LobbyDirectory
	if joinAddress, err := opts.String("--join"); err == nil && joinAddress != "" {
		directory = coedit.NewStaticLobbyDirectory(&coedit.LobbyInfo{
			Address: coedit.NormalizeLobbyAddress(joinAddress),
		})
	} else if rejoin, _ := opts.Bool("--rejoin"); rejoin {
		lobby, err := store.RecentLobby(projectName)
		if err != nil {
			panic(fmt.Errorf("No recent lobby for %s: %w", projectName, err))
		}
		directory = coedit.NewStaticLobbyDirectory(lobby)
	} else {
		directory = coedit.NewZeroconfLobbyDirectoryWithDefaults()
	}

	name := displayName(opts, store)
	wsSettings := coedit.DefaultWsTransportSettings()
	wsSettings.ListenAddress = listenAddress
	transport, err := coedit.NewWsTransport(ctx, name, directory, wsSettings)
	if err != nil {
		panic(err)
	}
	defer transport.Close()

	settings := coedit.DefaultSyncSettings(projectName)
	settings.DisplayName = name
	settings.TickInterval = time.Duration(tickMillis) * time.Millisecond
	if secret, err := store.IdentitySecret(); err == nil {
		settings.IdentitySecret = secret
	} else if !errors.Is(err, coedit.ErrStoreNotFound) {
		panic(err)
	}

	workspace := &coedit.Workspace{
		Files: files,
	}
	synchronizer := coedit.NewSynchronizer(transport, workspace, settings)
	if err := synchronizer.Start(ctx); err != nil {
		fmt.Printf("start error: %s\n", err)
		os.Exit(1)
	}
	defer synchronizer.Close()

	session := synchronizer.Session()
	fmt.Printf("peer_id: %s\n", synchronizer.LocalPeerId())
	fmt.Printf("lobby_id: %s\n", session.Lobby.LobbyId)
	if session.IsOwner {
		fmt.Printf("hosting %s on %s\n", projectName, transport.Address())
	} else {
		fmt.Printf("joined %s on %s\n", projectName, session.Lobby.Address)
		if err := store.SetRecentLobby(projectName, session.Lobby); err != nil {
			fmt.Printf("store error: %s\n", err)
		}
	}

	if statusPort, err := opts.Int("--status_port"); err == nil {
		statusSettings := coedit.DefaultStatusServerSettings()
		statusSettings.ListenAddress = fmt.Sprintf("127.0.0.1:%d", statusPort)
		statusServer := coedit.NewStatusServer(ctx, synchronizer, statusSettings)
		defer statusServer.Close()
		go func() {
			defer cancel()
			if err := statusServer.ListenAndServe(nil); err != nil {
				fmt.Printf("status error: %s\n", err)
			}
		}()
	}

	synchronizer.Run(ctx)
}

func lobbies(opts docopt.Opts) {
	timeoutSeconds, _ := opts.Int("--timeout")
	projectName, _ := opts.String("--name")

	settings := coedit.DefaultZeroconfLobbyDirectorySettings()
	settings.BrowseTimeout = time.Duration(timeoutSeconds) * time.Second
	directory := coedit.NewZeroconfLobbyDirectory(settings)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	found, err := directory.Browse(ctx, coedit.LobbyFilter{
		Name: projectName,
		Mode: coedit.DefaultLobbyMode,
	})
	if err != nil {
		panic(err)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		encoder := json.NewEncoder(os.Stdout)
		for _, lobby := range found {
			encoder.Encode(lobby)
		}
		return
	}

	if len(found) == 0 {
		fmt.Printf("no lobbies\n")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tLOBBY\tOWNER\tCAPACITY\tADDRESS\n")
	for _, lobby := range found {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", lobby.Name, lobby.LobbyId, lobby.OwnerId, lobby.Capacity, lobby.Address)
	}
	w.Flush()
}

func profile(opts docopt.Opts) {
	store := openStore(opts)
	defer store.Close()

	if name, err := opts.String("--display_name"); err == nil && name != "" {
		if err := store.SetDisplayName(name); err != nil {
			panic(err)
		}
	}

	if newSecret, _ := opts.Bool("--new_secret"); newSecret {
		secret, err := store.GenerateIdentitySecret()
		if err != nil {
			panic(err)
		}
		fmt.Printf("secret: %s\n", hex.EncodeToString(secret))
	} else if setSecret, _ := opts.Bool("--secret"); setSecret {
		fmt.Print("Enter secret: ")
		secretBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		fmt.Printf("\n")
		secret, err := hex.DecodeString(string(secretBytes))
		if err != nil {
			panic(fmt.Errorf("Secret must be hex: %w", err))
		}
		if err := store.SetIdentitySecret(secret); err != nil {
			panic(err)
		}
	}

	fmt.Printf("display_name: %s\n", displayName(opts, store))
	if _, err := store.IdentitySecret(); err == nil {
		fmt.Printf("identity: signed\n")
	} else {
		fmt.Printf("identity: unsigned\n")
	}
}
