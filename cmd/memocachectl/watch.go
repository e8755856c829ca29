package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/memocache/internal/config"
)

// cmdWatchConfig loads the config file once, then watches it for changes
// and logs what changed on every reload until interrupted. It exists to
// give operators a way to confirm a config edit took effect without
// restarting the process embedding memocache.
func cmdWatchConfig(args []string) {
	path := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--path" && i+1 < len(args) {
			path = args[i+1]
			i++
		}
	}

	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	resolved := config.ConfigFilePath()
	if resolved == "" {
		resolved = path
	}

	w, err := config.Watch(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting config watcher: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	w.OnChange(func(old, new *config.Config) {
		log.Info().
			Str("backend", fmt.Sprintf("%s -> %s", old.Cache.Backend, new.Cache.Backend)).
			Str("admin_addr", fmt.Sprintf("%s -> %s", old.Admin.Addr, new.Admin.Addr)).
			Bool("admin_enabled", new.Admin.Enabled).
			Bool("dist_singleflight_enabled", new.Cache.DistSingleflight.Enabled).
			Msg("memocachectl: config reloaded")
	})

	fmt.Printf("watching %s for changes (ctrl-c to stop)\n", resolved)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
