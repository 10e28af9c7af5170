package handlers

import (
	"discord-mirror/bot"
	"discord-mirror/mapping"
	"discord-mirror/model"
	"discord-mirror/utils"
	"discord-mirror/utils/database"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

type systemStats struct {
	Platform   string
	CPUCount   int
	CPUPercent float64
	MemUsed    uint64
	MemTotal   uint64
	DBSize     int64
	Latency    time.Duration
	Goroutines int
}

func collectSystemStats(s *discordgo.Session, dbPath string) systemStats {
	stats := systemStats{
		Goroutines: runtime.NumGoroutine(),
		Latency:    s.HeartbeatLatency(),
	}
	stats.CPUCount, _ = cpu.Counts(true)
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemUsed, stats.MemTotal = vm.Used, vm.Total
	}
	if info, err := host.Info(); err == nil {
		stats.Platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	}
	if fi, err := os.Stat(dbPath); err == nil {
		stats.DBSize = fi.Size()
	}
	return stats
}

// recentRunCount is how many runs /mirror-status lists.
const recentRunCount = 5

func statusEmbed(counts map[mapping.Kind]int, running bool, runs []model.ResyncRun, startedAt time.Time, stats systemStats) *discordgo.MessageEmbed {
	var mappings strings.Builder
	for _, k := range mapping.Kinds {
		fmt.Fprintf(&mappings, "%s: %s\n", k, humanize.Comma(int64(counts[k])))
	}

	state := "idle"
	if running {
		state = "🔄 backup in progress"
	}

	lastRun, history := "never", "none"
	if len(runs) > 0 {
		last := runs[0]
		lastRun = fmt.Sprintf("%s %s by <@%s>, took %s\n%s",
			last.Status, humanize.Time(last.FinishedAt), last.InvokerID,
			last.Duration().Round(time.Second), last.Summary)
		if last.Error != "" {
			lastRun += "\n" + last.Error
		}
		history = recentRuns(runs)
	}

	platform := stats.Platform
	if platform == "" {
		platform = runtime.GOOS
	}

	return &discordgo.MessageEmbed{
		Title: "Mirror status",
		Color: 0x5865F2,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "📦 Mappings", Value: mappings.String(), Inline: true},
			{Name: "⚙️ Engine", Value: state, Inline: true},
			{Name: "🕓 Last backup", Value: lastRun},
			{Name: "📜 Recent backups", Value: history},
			{Name: "💻 OS", Value: platform, Inline: true},
			{Name: "🐹 Go", Value: runtime.Version(), Inline: true},
			{Name: "🔥 CPU", Value: fmt.Sprintf("%.1f%% of %d", stats.CPUPercent, stats.CPUCount), Inline: true},
			{Name: "🧠 Memory", Value: fmt.Sprintf("%s / %s", humanize.IBytes(stats.MemUsed), humanize.IBytes(stats.MemTotal)), Inline: true},
			{Name: "🗃️ Run history", Value: humanize.Bytes(uint64(stats.DBSize)), Inline: true},
			{Name: "⏱️ Latency", Value: stats.Latency.String(), Inline: true},
			{Name: "🚀 Goroutines", Value: fmt.Sprintf("%d", stats.Goroutines), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Up since " + humanize.Time(startedAt),
		},
	}
}

func recentRuns(runs []model.ResyncRun) string {
	var b strings.Builder
	for _, r := range runs {
		fmt.Fprintf(&b, "%s %s, %s created, %s failed\n", r.Status, humanize.Time(r.FinishedAt),
			humanize.Comma(int64(r.Created)), humanize.Comma(int64(r.Failed)))
	}
	return b.String()
}

// MirrorStatusHandler answers /mirror-status.
func MirrorStatusHandler(s *discordgo.Session, i *discordgo.InteractionCreate, b *bot.Bot) {
	if !utils.HasAdministrator(i) {
		utils.SendErrorResponse(s, i, "You need the Administrator permission to use this command.")
		return
	}
	runs, err := database.RecentRuns(b.GetDB(), recentRunCount)
	if err != nil {
		logrus.WithError(err).Warn("reading resync history")
	}
	stats := collectSystemStats(s, b.GetConfig().RunsDBPath)
	utils.SendEmbedResponse(s, i, statusEmbed(b.Store.Counts(), b.Engine.Running(), runs, b.StartedAt, stats))
}
