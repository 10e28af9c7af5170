package bot

import (
	"context"
	"discord-mirror/commands"
	"discord-mirror/config"
	"discord-mirror/mapping"
	"discord-mirror/mirror"
	"discord-mirror/model"
	"discord-mirror/remote"
	"discord-mirror/utils/database"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type Bot struct {
	Session            *discordgo.Session
	RegisteredCommands []*discordgo.ApplicationCommand
	config             atomic.Value // *model.Config
	CommandHandlers    map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate)
	DB                 *sqlx.DB
	Store              *mapping.Store
	Engine             *mirror.Engine
	StartedAt          time.Time

	loader    *config.Loader
	scheduler *Scheduler
	log       *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	// background tracks resyncs and other work that must finish before Close returns
	background sync.WaitGroup
}

func (b *Bot) GetConfig() *model.Config {
	return b.config.Load().(*model.Config)
}

func (b *Bot) GetDB() *sqlx.DB {
	return b.DB
}

// Context is cancelled when the bot shuts down.
func (b *Bot) Context() context.Context {
	return b.ctx
}

// Go runs fn in the background; Close waits for it.
func (b *Bot) Go(fn func(ctx context.Context)) {
	b.background.Add(1)
	go func() {
		defer b.background.Done()
		fn(b.ctx)
	}()
}

func engineOptions(cfg *model.Config) mirror.Options {
	return mirror.Options{
		SourceGuildID:      cfg.SourceGuildID,
		DestinationGuildID: cfg.DestinationGuildID,
		ChannelConcurrency: cfg.ChannelConcurrency,
		MessageConcurrency: cfg.MessageConcurrency,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	}
}

// New builds the session, opens the mapping store and run history and
// wires the replication engine. Nothing touches the gateway until Run.
func New(cfg *model.Config, loader *config.Loader, log *logrus.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent | discordgo.IntentsGuildMembers

	backend, err := mapping.OpenBackend(cfg.MappingDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping store: %w", err)
	}
	store := mapping.NewStore(backend)
	if err := store.Load(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load mapping store: %w", err)
	}

	db, err := database.InitRunsDB(cfg.RunsDBPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	adapter := remote.New(dg)
	relay := mirror.NewRelayCache(adapter, cfg.WebhookName)
	entry := logrus.NewEntry(log)

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		Session:   dg,
		DB:        db,
		Store:     store,
		Engine:    mirror.NewEngine(adapter, store, relay, engineOptions(cfg), entry),
		StartedAt: time.Now(),
		loader:    loader,
		log:       entry.WithField("module", "bot"),
		ctx:       ctx,
		cancel:    cancel,
	}
	b.config.Store(cfg)
	b.scheduler = NewScheduler(b)
	return b, nil
}

// ApplyConfig swaps in cfg. Guild ids and widths take effect on the next
// event or resync; the bot token, mapping DSN and webhook name need a restart.
func (b *Bot) ApplyConfig(cfg *model.Config) {
	old := b.GetConfig()
	if cfg.BotToken != old.BotToken || cfg.MappingDSN != old.MappingDSN || cfg.RunsDBPath != old.RunsDBPath || cfg.WebhookName != old.WebhookName {
		b.log.Warn("Token, storage and webhook name changes apply after a restart")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
		b.log.Logger.SetLevel(level)
	}
	b.config.Store(cfg)
	b.Engine.SetOptions(engineOptions(cfg))

	if cfg.SourceGuildID != old.SourceGuildID && b.Session.State.User != nil {
		b.UnregisterCommands(old.SourceGuildID)
		b.RefreshCommands(cfg.SourceGuildID)
	}
}

// ReloadConfig rereads every configuration source and applies the result.
func (b *Bot) ReloadConfig() error {
	b.log.Info("Reloading configuration...")
	cfg, err := b.loader.Reload()
	if err != nil {
		b.log.WithError(err).Error("Error reloading config")
		return err
	}
	b.ApplyConfig(cfg)
	b.log.Info("Configuration reloaded successfully.")
	return nil
}

func (b *Bot) RefreshCommands(guildID string) {
	cmds := commands.GenerateCommands()
	b.log.Infof("Registering %d commands for guild %s...", len(cmds), guildID)
	registered, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, guildID, cmds)
	if err != nil {
		b.log.WithError(err).Errorf("cannot update commands for guild '%s'", guildID)
		return
	}
	b.RegisteredCommands = registered
}

func (b *Bot) UnregisterCommands(guildID string) {
	if _, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, guildID, nil); err != nil {
		b.log.WithError(err).Warnf("cannot clear commands for guild '%s'", guildID)
	}
}

func (b *Bot) Close() {
	b.log.Info("Gracefully shutting down.")
	b.cancel()
	b.scheduler.Stop()
	b.background.Wait()

	if err := b.Session.Close(); err != nil {
		b.log.WithError(err).Warn("closing gateway session")
	}
	if err := b.Store.Persist(); err != nil {
		b.log.WithError(err).Error("final mapping flush failed")
	}
	if err := b.Store.Close(); err != nil {
		b.log.WithError(err).Warn("closing mapping store")
	}
	if err := b.DB.Close(); err != nil {
		b.log.WithError(err).Warn("closing runs database")
	}
}
