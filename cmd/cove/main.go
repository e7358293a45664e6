// Command cove is the process entry point: it loads the persistent
// config, launches the vault, and connects every autojoin room,
// wiring each room's navigation state to its archive. It owns no
// rendering of its own — drawing the terminal UI is the external
// collaborator's job (spec.md §1 Non-goals) — and exists to prove the
// core's pieces assemble the way the external collaborator is expected
// to assemble them (spec.md §6 "Lifecycle operations exposed by the
// core"). Flag/signal handling follows the teacher's server/main.go.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"cove/internal/config"
	"cove/internal/euph"
	"cove/internal/nav"
	"cove/internal/store"
	"cove/internal/vault"
)

func main() {
	dataDir := flag.String("data-dir", "", "file path for the database (default ~/.local/share/cove/cove.db)")
	serverURL := flag.String("server", "", "override the config's server URL")
	identity := flag.String("identity", "", "override the config's identity string")
	nickFlag := flag.String("nick", "", "override the config's global nick")
	ephemeral := flag.Bool("ephemeral", false, "don't persist any history for this run")
	offline := flag.Bool("offline", false, "don't autojoin any rooms on startup")
	timeout := flag.Duration("timeout", 0, "override the config's request/keepalive timeout")
	flag.Parse()

	cfg := config.Load()
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *identity != "" {
		cfg.Identity = *identity
	}
	if *nickFlag != "" {
		cfg.Nick = *nickFlag
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *ephemeral {
		cfg.Ephemeral = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[config] %v", err)
	}

	normalized, err := config.NormalizeServerURL(cfg.ServerURL)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	cfg.ServerURL = normalized

	v, err := openVault(cfg, *dataDir)
	if err != nil {
		log.Fatalf("[vault] %v", err)
	}
	defer func() {
		if err := v.Close(); err != nil {
			log.Printf("[vault] close: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[cove] shutting down...")
		cancel()
	}()

	sessions := map[string]*roomSession{}
	if !*offline {
		for _, name := range cfg.AutojoinRooms() {
			sess, err := joinRoom(cfg, v, name)
			if err != nil {
				log.Printf("[cove] skipping %s: %v", name, err)
				continue
			}
			sessions[name] = sess
		}
	}
	defer func() {
		for name, sess := range sessions {
			log.Printf("[cove] leaving %s", name)
			sess.room.Close()
		}
	}()

	<-ctx.Done()
}

// roomSession bundles one room's live connection with the navigation
// state the external UI would drive (spec.md §6 "TreeViewState::new(store)").
type roomSession struct {
	room *euph.Room
	nav  *nav.State[store.MsgID, store.Msg]
}

func openVault(cfg config.Config, dataDirOverride string) (*vault.Vault, error) {
	if cfg.Ephemeral {
		return vault.LaunchInMemory()
	}
	dir := dataDirOverride
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = home + "/.local/share/cove/cove.db"
	}
	return vault.Launch(dir)
}

func joinRoom(cfg config.Config, v *vault.Vault, name string) (*roomSession, error) {
	roomURL, err := config.RoomURL(cfg.ServerURL, name)
	if err != nil {
		return nil, err
	}
	nick := cfg.NickFor(name)
	room := euph.New(
		euph.Config{ServerURL: roomURL, Timeout: cfg.Timeout},
		name,
		cfg.Identity,
		nick,
		v.Euph(),
	)
	log.Printf("[cove] joining %s as %q", name, nick)
	return &roomSession{
		room: room,
		nav:  nav.New[store.MsgID, store.Msg](v.Euph(), name),
	}, nil
}
