package main

import (
	"discord-mirror/bot"
	"discord-mirror/config"
	"discord-mirror/handlers"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	log := logrus.New()
	log.Formatter = &logrus.TextFormatter{ForceColors: true, FullTimestamp: true, TimestampFormat: time.RFC3339}
	logrus.SetFormatter(log.Formatter)

	loader, err := config.NewLoader(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Error parsing flags: %v", err)
	}
	cfg, err := loader.Config()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
		logrus.SetLevel(level)
	} else {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	}

	b, err := bot.New(cfg, loader, log)
	if err != nil {
		log.Fatalf("Error creating bot: %v", err)
	}
	defer b.Close()

	handlers.Register(b)

	if err := b.Run(); err != nil {
		log.Errorf("Bot stopped: %v", err)
	}
}
