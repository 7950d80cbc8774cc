// Package config loads and defaults the gossip core's configuration,
// following the teacher's config.go: TOML on disk, sane defaults,
// environment-variable override for the config path, ~ expansion for
// file paths. Every option named in spec.md §6 is represented here.
// Options come from the TOML file (or the defaults) at startup only;
// nothing writes them back to Storage or to the file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every recognized option from spec.md §6, abbreviated
// names kept close to the spec's table so the mapping is obvious.
type Config struct {
	Relays []string `toml:"relays"`

	Offline                       bool `toml:"offline"`
	LoadAvatars                   bool `toml:"load_avatars"`
	LoadMedia                     bool `toml:"load_media"`
	CheckNip05                    bool `toml:"check_nip05"`
	AutomaticallyFetchMetadata    bool `toml:"automatically_fetch_metadata"`
	RelayConnectionRequiresApproval bool `toml:"relay_connection_requires_approval"`
	RelayAuthRequiresApproval     bool `toml:"relay_auth_requires_approval"`

	NumRelaysPerPerson   int `toml:"num_relays_per_person"`
	MaxRelays            int `toml:"max_relays"`
	NumRelaysForCounting int `toml:"num_relays_for_counting"`

	FetcherConnectTimeoutSecs int `toml:"fetcher_connect_timeout_secs"`
	FetcherTimeoutSecs        int `toml:"fetcher_timeout_secs"`
	FetcherMaxRequestsPerHost int `toml:"fetcher_max_requests_per_host"`
	FetcherMaxRequestsTotal   int `toml:"fetcher_max_requests_total"`

	FetcherHostExclusionOnLowErrorSecs  int `toml:"fetcher_host_exclusion_on_low_error_secs"`
	FetcherHostExclusionOnMedErrorSecs  int `toml:"fetcher_host_exclusion_on_med_error_secs"`
	FetcherHostExclusionOnHighErrorSecs int `toml:"fetcher_host_exclusion_on_high_error_secs"`

	MaxWebsocketMessageSizeKb int `toml:"max_websocket_message_size_kb"`
	MaxWebsocketFrameSizeKb   int `toml:"max_websocket_frame_size_kb"`
	WebsocketConnectTimeoutSec int `toml:"websocket_connect_timeout_sec"`
	WebsocketPingFrequencySec int `toml:"websocket_ping_frequency_sec"`

	AvatarBecomesStaleHours int `toml:"avatar_becomes_stale_hours"`
	MediaBecomesStaleHours  int `toml:"media_becomes_stale_hours"`
	Nip05BecomesStaleHours  int `toml:"nip05_becomes_stale_hours"`
	Nip11BecomesStaleHours  int `toml:"nip11_becomes_stale_hours"`
	RelayListBecomesStaleMinutes int `toml:"relay_list_becomes_stale_minutes"`

	PrunePeriodDays      int `toml:"prune_period_days"`
	CachePrunePeriodDays int `toml:"cache_prune_period_days"`

	Reactions             bool `toml:"reactions"`
	Reposts               bool `toml:"reposts"`
	DirectMessages        bool `toml:"direct_messages"`
	ShowLongForm          bool `toml:"show_long_form"`
	AvoidSpamOnUnsafeRelays bool `toml:"avoid_spam_on_unsafe_relays"`
	ShowMentions          bool `toml:"show_mentions"`
	ShowMedia             bool `toml:"show_media"`
	ApproveContentWarning bool `toml:"approve_content_warning"`
	HideMutesEntirely     bool `toml:"hide_mutes_entirely"`
	ShowDeletedEvents     bool `toml:"show_deleted_events"`

	LoadMoreCount        int  `toml:"load_more_count"`
	Overlap              int  `toml:"overlap"`
	FeedRecomputeIntervalMs int `toml:"feed_recompute_interval_ms"`
	FeedNewestAtBottom   bool `toml:"feed_newest_at_bottom"`
	LogN                 int  `toml:"log_n"`
	LoginAtStartup       bool `toml:"login_at_startup"`

	FutureAllowanceSecs int `toml:"future_allowance_secs"`
	SeekDeadlineSecs    int `toml:"seek_deadline_secs"`

	PrivateKeyFile string `toml:"private_key_file"`
	DataDir        string `toml:"data_dir"`
	CacheDir       string `toml:"cache_dir"`

	Profile ProfileConfig `toml:"profile"`
}

type ProfileConfig struct {
	Name        string `toml:"name"`
	DisplayName string `toml:"display_name"`
	About       string `toml:"about"`
	Picture     string `toml:"picture"`
}

func Default() Config {
	return Config{
		Relays: []string{
			"wss://relay.damus.io",
			"wss://relay.nostr.band",
			"wss://nos.lol",
		},
		LoadAvatars:                  true,
		CheckNip05:                   true,
		AutomaticallyFetchMetadata:   true,
		RelayConnectionRequiresApproval: true,
		RelayAuthRequiresApproval:    true,
		NumRelaysPerPerson:           2,
		MaxRelays:                   50,
		NumRelaysForCounting:        3,
		FetcherConnectTimeoutSecs:   15,
		FetcherTimeoutSecs:          30,
		FetcherMaxRequestsPerHost:   3,
		FetcherMaxRequestsTotal:     50,
		FetcherHostExclusionOnLowErrorSecs:  60,
		FetcherHostExclusionOnMedErrorSecs:  300,
		FetcherHostExclusionOnHighErrorSecs: 3600,
		MaxWebsocketMessageSizeKb: 1024,
		MaxWebsocketFrameSizeKb:   1024,
		WebsocketConnectTimeoutSec: 15,
		WebsocketPingFrequencySec: 55,
		AvatarBecomesStaleHours:   24,
		MediaBecomesStaleHours:    24,
		Nip05BecomesStaleHours:    12,
		Nip11BecomesStaleHours:    8,
		RelayListBecomesStaleMinutes: 60,
		PrunePeriodDays:      30,
		CachePrunePeriodDays: 7,
		Reactions:            true,
		Reposts:              true,
		DirectMessages:       true,
		ShowLongForm:         true,
		AvoidSpamOnUnsafeRelays: true,
		ShowMentions:         true,
		ShowMedia:            true,
		ApproveContentWarning: false,
		HideMutesEntirely:    false,
		ShowDeletedEvents:    false,
		LoadMoreCount:        25,
		Overlap:              60,
		FeedRecomputeIntervalMs: 3000,
		LogN:                 18,
		LoginAtStartup:       true,
		FutureAllowanceSecs:  600,
		SeekDeadlineSecs:     15,
	}
}

// Path resolves the config file location: explicit flag, then
// GOSSIP_CONFIG env var, then ~/.config/gossip/config.toml.
func Path(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("GOSSIP_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "gossip", "config.toml")
}

// Load reads and defaults the config from flagPath (or its resolved
// default location). A missing file is not an error: Default() is used.
func Load(flagPath string) (Config, error) {
	cfg := Default()

	path := Path(flagPath)
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	if len(cfg.Relays) == 0 {
		cfg.Relays = Default().Relays
	}
	if cfg.NumRelaysPerPerson <= 0 {
		cfg.NumRelaysPerPerson = Default().NumRelaysPerPerson
	}
	if cfg.MaxRelays <= 0 {
		cfg.MaxRelays = Default().MaxRelays
	}
	if cfg.FeedRecomputeIntervalMs <= 0 {
		cfg.FeedRecomputeIntervalMs = Default().FeedRecomputeIntervalMs
	}

	return cfg, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func (c Config) DataDirOrDefault() string {
	if c.DataDir != "" {
		return expandHome(c.DataDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gossip-data"
	}
	return filepath.Join(home, ".local", "share", "gossip")
}

func (c Config) CacheDirOrDefault() string {
	if c.CacheDir != "" {
		return expandHome(c.CacheDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gossip-cache"
	}
	return filepath.Join(home, ".cache", "gossip")
}

func (c Config) FetcherConnectTimeout() time.Duration {
	return time.Duration(c.FetcherConnectTimeoutSecs) * time.Second
}

func (c Config) FutureAllowance() time.Duration {
	return time.Duration(c.FutureAllowanceSecs) * time.Second
}
