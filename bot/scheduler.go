package bot

import (
	"discord-mirror/mapping"
	"discord-mirror/model"
	"discord-mirror/utils/database"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// BotProvider defines the methods the scheduler needs from the Bot.
type BotProvider interface {
	model.BotConfigProvider
	GetDB() *sqlx.DB
	MappingStore() *mapping.Store
	Logger() *logrus.Entry
}

func (b *Bot) MappingStore() *mapping.Store { return b.Store }
func (b *Bot) Logger() *logrus.Entry { return b.log }

// Scheduler runs the periodic housekeeping: flushing the mapping store so
// a failed save is retried, and trimming the run history.
type Scheduler struct {
	bot           BotProvider
	done          chan struct{}
	wg            sync.WaitGroup
	flushInterval time.Duration
	pruneInterval time.Duration
	stopOnce      sync.Once
}

// NewScheduler creates a new scheduler.
func NewScheduler(bot BotProvider) *Scheduler {
	return &Scheduler{
		bot:           bot,
		done:          make(chan struct{}),
		flushInterval: time.Minute,
		pruneInterval: 6 * time.Hour,
	}
}

// Start begins all scheduled tasks.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.startScheduledTasks()
}

// Stop terminates all scheduled tasks gracefully. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Scheduler) startScheduledTasks() {
	defer s.wg.Done()
	flushTicker := time.NewTicker(s.flushInterval)
	pruneTicker := time.NewTicker(s.pruneInterval)
	defer flushTicker.Stop()
	defer pruneTicker.Stop()

	s.pruneRuns()
	for {
		select {
		case <-flushTicker.C:
			s.flushMappings()
		case <-pruneTicker.C:
			s.pruneRuns()
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) flushMappings() {
	if err := s.bot.MappingStore().Persist(); err != nil {
		s.bot.Logger().WithError(err).Warn("periodic mapping flush failed")
	}
}

func (s *Scheduler) pruneRuns() {
	keep := s.bot.GetConfig().RunHistory
	if keep <= 0 {
		return
	}
	n, err := database.PruneRuns(s.bot.GetDB(), keep)
	if err != nil {
		s.bot.Logger().WithError(err).Warn("pruning run history failed")
		return
	}
	if n > 0 {
		s.bot.Logger().Debugf("pruned %d old resync runs", n)
	}
}
