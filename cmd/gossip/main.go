// Command gossip is the process entrypoint: it loads configuration,
// loads or generates the local identity, opens storage, wires the core
// components together through internal/overlord, and runs a minimal
// status/command surface. Feed rendering, theming, and every other
// presentational concern are out of scope here (see the core's Overlord
// and Feed Computer) — this binary's job is wiring, not UI. Grounded on
// the teacher's main.go: flag parsing, debug logging to a file, config
// loading, a "keygen" subcommand that exits before any key is required,
// and key loading from private_key_file or an environment variable.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/gossipcore/gossip/internal/config"
	"github.com/gossipcore/gossip/internal/fetcher"
	"github.com/gossipcore/gossip/internal/gossiptype"
	"github.com/gossipcore/gossip/internal/overlord"
	"github.com/gossipcore/gossip/internal/pending"
	"github.com/gossipcore/gossip/internal/processor"
	"github.com/gossipcore/gossip/internal/signer"
	"github.com/gossipcore/gossip/internal/status"
	"github.com/gossipcore/gossip/internal/storage"
)

func main() {
	configFlag := flag.String("config", "", "path to config file")
	debugFlag := flag.Bool("debug", false, "enable debug logging to debug.log")
	flag.Parse()

	if *debugFlag {
		f, err := os.OpenFile("debug.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not open debug log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
		log.Println("debug logging enabled")
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("config loaded: %d relays", len(cfg.Relays))

	args := flag.Args()
	if len(args) > 0 && args[0] == "keygen" {
		runKeygen(cfg)
		return
	}

	sgn, err := loadSigner(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key error: %v\n", err)
		os.Exit(1)
	}
	if pub, ok := sgn.PublicKey(); ok {
		log.Printf("keys loaded: npub=%s", gossiptype.NpubOf(pub))
	}

	store, err := storage.Open(cfg.DataDirOrDefault())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	statusQ := status.NewQueue()
	pendQ := pending.NewQueue()

	fetchCfg := fetcher.DefaultConfig(cfg.CacheDirOrDefault())
	fetchCfg.MaxConcurrentTotal = int64(cfg.FetcherMaxRequestsTotal)
	fetchCfg.MaxConcurrentPerHost = int64(cfg.FetcherMaxRequestsPerHost)
	fetchCfg.ExclusionLowSecs = int64(cfg.FetcherHostExclusionOnLowErrorSecs)
	fetchCfg.ExclusionMedSecs = int64(cfg.FetcherHostExclusionOnMedErrorSecs)
	fetchCfg.ExclusionHighSecs = int64(cfg.FetcherHostExclusionOnHighErrorSecs)
	fetchCfg.RequestTimeout = time.Duration(cfg.FetcherTimeoutSecs) * time.Second
	if cfg.AvatarBecomesStaleHours > 0 {
		fetchCfg.StaleAfter[fetcher.PurposeAvatar] = time.Duration(cfg.AvatarBecomesStaleHours) * time.Hour
	}
	if cfg.MediaBecomesStaleHours > 0 {
		fetchCfg.StaleAfter[fetcher.PurposeMedia] = time.Duration(cfg.MediaBecomesStaleHours) * time.Hour
	}
	if cfg.Nip05BecomesStaleHours > 0 {
		fetchCfg.StaleAfter[fetcher.PurposeNip05] = time.Duration(cfg.Nip05BecomesStaleHours) * time.Hour
	}
	if cfg.Nip11BecomesStaleHours > 0 {
		fetchCfg.StaleAfter[fetcher.PurposeNip11] = time.Duration(cfg.Nip11BecomesStaleHours) * time.Hour
	}
	fetch := fetcher.New(fetchCfg)

	proc := processor.New(store, sgn, statusQ, processor.Config{
		FutureAllowanceSecs: int64(cfg.FutureAllowanceSecs),
	})

	ov := overlord.New(cfg, overlord.Deps{
		Store:  store,
		Proc:   proc,
		Fetch:  fetch,
		Signer: sgn,
		Pend:   pendQ,
		Status: statusQ,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down")
		cancel()
	}()

	go ov.Run(ctx)

	for _, r := range cfg.Relays {
		url := gossiptype.RelayUrl(r)
		if err := ov.AddRelay(ctx, url, gossiptype.UsageRead|gossiptype.UsageWrite); err != nil {
			log.Printf("add relay %s: %v", url, err)
		}
	}

	log.Println("starting command loop")
	runREPL(ctx, ov, statusQ, pendQ)
}

// runREPL is the minimal, non-presentational status/command surface:
// one line per command; the status command prints the latest status
// line and the pending command lists queued decisions, nothing is
// printed unprompted. A full feed-rendering TUI is presentational and out of
// scope for this core.
func runREPL(ctx context.Context, ov *overlord.Overlord, statusQ *status.Queue, pendQ *pending.Queue) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("gossip running. commands: post <text>, follow <npub>, status, pending, quit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		cmd := fields[0]
		rest := ""
		if len(fields) > 1 {
			rest = fields[1]
		}

		switch cmd {
		case "quit", "exit":
			return

		case "post":
			id, err := ov.Post(ctx, rest, nil)
			if err != nil {
				fmt.Printf("post failed: %v\n", err)
				continue
			}
			fmt.Printf("posted %s\n", id)

		case "follow":
			pk, err := decodeNpubOrHex(rest)
			if err != nil {
				fmt.Printf("follow failed: %v\n", err)
				continue
			}
			if err := ov.Follow(ctx, pk, false); err != nil {
				fmt.Printf("follow failed: %v\n", err)
				continue
			}
			fmt.Println("followed")

		case "status":
			fmt.Println(statusQ.Last())

		case "pending":
			for _, item := range pendQ.List() {
				fmt.Printf("%s [%s]: %s\n", item.Key, item.Kind, item.Detail)
			}

		default:
			fmt.Printf("unknown command: %s\n", cmd)
		}
	}
}

func decodeNpubOrHex(s string) (gossiptype.PublicKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub") {
		prefix, val, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("decode npub: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("expected npub prefix, got %s", prefix)
		}
		return gossiptype.PublicKey(val.(string)), nil
	}
	return gossiptype.PublicKey(s), nil
}

// loadSigner builds the local signer from private_key_file or the
// NOSTR_PRIVATE_KEY environment variable, matching the teacher's
// loadKeys. Only a local key is loaded here; no NIP-46 bunker signer is
// built from config.
func loadSigner(cfg config.Config) (signer.Signer, error) {
	var raw string
	if cfg.PrivateKeyFile != "" {
		path := cfg.PrivateKeyFile
		if strings.HasPrefix(path, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, path[2:])
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read private_key_file %q: %w", path, err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		raw = os.Getenv("NOSTR_PRIVATE_KEY")
	}
	if raw == "" {
		return nil, fmt.Errorf("no private key: set private_key_file in config or NOSTR_PRIVATE_KEY env var")
	}
	return signer.NewLocalSignerFromSecret(raw)
}

func runKeygen(cfg config.Config) {
	path := cfg.PrivateKeyFile
	if path == "" {
		fmt.Fprintf(os.Stderr, "error: private_key_file not set in config\n")
		os.Exit(1)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "error: %s already exists, refusing to overwrite\n", path)
		os.Exit(1)
	}

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error deriving public key: %v\n", err)
		os.Exit(1)
	}
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error encoding nsec: %v\n", err)
		os.Exit(1)
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error encoding npub: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error creating directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, []byte(nsec+"\n"), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "error writing key file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated new keypair:\n")
	fmt.Printf("  nsec: %s\n", nsec)
	fmt.Printf("  npub: %s\n", npub)
	fmt.Printf("  file: %s\n", path)
}
