package bot

import (
	"discord-mirror/utils"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
)

// Run opens the gateway, registers commands in the source guild, starts
// the scheduler and the config watcher, and blocks until SIGINT/SIGTERM.
func (b *Bot) Run() error {
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	cfg := b.GetConfig()
	b.RefreshCommands(cfg.SourceGuildID)
	b.scheduler.Start()
	b.loader.Watch(b.ApplyConfig)

	counts := b.Store.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	b.log.Infof("Mirroring %s -> %s with %s known mappings. Press CTRL-C to exit.",
		cfg.SourceGuildID, cfg.DestinationGuildID, humanize.Comma(int64(total)))
	if err := utils.LogInfo(cfg.LogWebhookURL, "System", "Startup", "Mirror bot has started."); err != nil {
		b.log.WithError(err).Warn("Failed to send startup log")
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc
	return nil
}
