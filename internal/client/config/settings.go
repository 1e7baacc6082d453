package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/otpkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
)

const settingsKey = "settings"

// Settings are the user-changeable endpoint settings.
type Settings struct {
	ServerURL   string `json:"serverUrl,omitempty"`
	AccountsURL string `json:"accountsUrl,omitempty"`
}

// SettingsPatch is a partial update; nil fields are left unchanged and an
// empty string resets the field to its default.
type SettingsPatch struct {
	ServerURL   *string `json:"serverUrl,omitempty"`
	AccountsURL *string `json:"accountsUrl,omitempty"`
}

// SettingsStore persists Settings in the metadata store. It also serves as
// the base URL source for the identity provider client, so a changed server
// URL takes effect on the next request.
type SettingsStore struct {
	repo     metadata.Repository
	defaults Settings
	log      logging.Logger
}

// NewSettingsStore returns a store falling back to the URLs in cfg.
func NewSettingsStore(repo metadata.Repository, cfg *Config, log logging.Logger) *SettingsStore {
	return &SettingsStore{
		repo: repo,
		defaults: Settings{
			ServerURL:   orDefault(cfg.ServerURL, DefaultServerURL),
			AccountsURL: orDefault(cfg.AccountsURL, DefaultAccountsURL),
		},
		log: log,
	}
}

// Get returns the effective settings: stored values over defaults, trimmed.
func (s *SettingsStore) Get(ctx context.Context) (Settings, error) {
	stored, err := s.load(ctx)
	if err != nil {
		return s.defaults, err
	}
	return Settings{
		ServerURL:   orDefault(stored.ServerURL, s.defaults.ServerURL),
		AccountsURL: orDefault(stored.AccountsURL, s.defaults.AccountsURL),
	}, nil
}

// Update applies p to the stored settings and returns the effective result.
func (s *SettingsStore) Update(ctx context.Context, p SettingsPatch) (Settings, error) {
	stored, err := s.load(ctx)
	if err != nil {
		return Settings{}, err
	}
	if p.ServerURL != nil {
		stored.ServerURL = TrimURL(*p.ServerURL)
	}
	if p.AccountsURL != nil {
		stored.AccountsURL = TrimURL(*p.AccountsURL)
	}

	b, err := json.Marshal(stored)
	if err != nil {
		return Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	if err := s.repo.Set(ctx, settingsKey, b); err != nil {
		return Settings{}, err
	}
	return s.Get(ctx)
}

// ServerURL returns the effective identity provider base URL. Storage
// failures are logged and fall back to the default.
func (s *SettingsStore) ServerURL(ctx context.Context) string {
	st, err := s.Get(ctx)
	if err != nil {
		s.log.Warn(ctx, "settings unavailable, using default server url", "error", err)
	}
	return st.ServerURL
}

// AccountsURL returns the effective accounts base URL.
func (s *SettingsStore) AccountsURL(ctx context.Context) string {
	st, err := s.Get(ctx)
	if err != nil {
		s.log.Warn(ctx, "settings unavailable, using default accounts url", "error", err)
	}
	return st.AccountsURL
}

func (s *SettingsStore) load(ctx context.Context) (Settings, error) {
	var st Settings
	b, err := s.repo.Get(ctx, settingsKey)
	if err != nil {
		return st, fmt.Errorf("load settings: %w", err)
	}
	if b == nil {
		return st, nil
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("decode settings: %w", err)
	}
	return st, nil
}

func orDefault(v, def string) string {
	if v = TrimURL(v); v != "" {
		return v
	}
	return TrimURL(def)
}
