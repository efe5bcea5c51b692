package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ClientSpec describes one OAuth client declared in clients.yml.
type ClientSpec struct {
	ClientID       string   `mapstructure:"client_id"`
	Name           string   `mapstructure:"name"`
	Type           string   `mapstructure:"type"`
	SecretEnv      string   `mapstructure:"secret_env"`
	RedirectURIs   []string `mapstructure:"redirect_uris"`
	Scopes         []string `mapstructure:"scopes"`
	GrantTypes     []string `mapstructure:"grant_types"`
	RequireConsent bool     `mapstructure:"require_consent"`
}

type ClientsFile struct {
	Clients []ClientSpec `mapstructure:"clients"`
}

// ClientsHolder keeps the last valid clients.yml snapshot and notifies
// subscribers whenever the file changes on disk.
type ClientsHolder struct {
	current atomic.Value // holds ClientsFile

	mu        sync.Mutex
	listeners []func(ClientsFile)
}

// NewClientsHolder reads path with viper. An empty path yields an empty,
// never-reloading holder.
func NewClientsHolder(path string) (*ClientsHolder, error) {
	holder := &ClientsHolder{}
	holder.current.Store(ClientsFile{})
	if strings.TrimSpace(path) == "" {
		return holder, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read clients file: %w", err)
	}

	var cfg ClientsFile
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateClientsFile(cfg); err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ClientsFile
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[clients-config] reload failed: %v", err)
			return
		}
		if err := validateClientsFile(updated); err != nil {
			log.Printf("[clients-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[clients-config] reloaded from %s", e.Name)
		holder.notify(updated)
	})

	return holder, nil
}

func (h *ClientsHolder) Get() ClientsFile {
	return h.current.Load().(ClientsFile)
}

// OnChange registers fn to run after every successful reload.
func (h *ClientsHolder) OnChange(fn func(ClientsFile)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *ClientsHolder) notify(cfg ClientsFile) {
	h.mu.Lock()
	listeners := append([]func(ClientsFile){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

func validateClientsFile(cfg ClientsFile) error {
	seen := make(map[string]struct{}, len(cfg.Clients))
	for _, c := range cfg.Clients {
		id := strings.TrimSpace(c.ClientID)
		if id == "" {
			return errors.New("clients[].client_id cannot be empty")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate client_id %q", id)
		}
		seen[id] = struct{}{}
		switch c.Type {
		case "public", "confidential":
		default:
			return fmt.Errorf("client %q: type must be public or confidential", id)
		}
		if len(c.RedirectURIs) == 0 && c.Type == "public" {
			return fmt.Errorf("client %q: redirect_uris cannot be empty", id)
		}
	}
	return nil
}
