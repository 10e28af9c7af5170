package admin

import (
	"context"
	"discord-mirror/bot"
	"discord-mirror/mirror"
	"discord-mirror/model"
	"discord-mirror/utils"
	"discord-mirror/utils/database"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// at most this many item failures are quoted back to the invoker
const maxQuotedFailures = 5

// HandleBackup runs a full resync for /backup. The response is deferred
// and replaced with the run summary once the resync ends.
func HandleBackup(s *discordgo.Session, i *discordgo.InteractionCreate, b *bot.Bot) {
	if !utils.HasAdministrator(i) {
		utils.SendErrorResponse(s, i, "You need the Administrator permission to use this command.")
		return
	}
	if b.Engine.Running() {
		utils.SendErrorResponse(s, i, "A backup is already running.")
		return
	}
	if err := utils.DeferResponse(s, i, true); err != nil {
		logrus.WithError(err).Error("deferring /backup response")
		return
	}

	invoker := utils.InvokerID(i)
	b.Go(func(ctx context.Context) {
		cfg := b.GetConfig()
		if logErr := utils.LogInfo(cfg.LogWebhookURL, "Mirror", "Backup", fmt.Sprintf("Requested by <@%s>: %s -> %s", invoker, cfg.SourceGuildID, cfg.DestinationGuildID)); logErr != nil {
			logrus.WithError(logErr).Warn("Failed to send backup log")
		}
		started := time.Now()
		report, err := b.Engine.FullResync(ctx, invoker)
		run := runRecord(cfg, invoker, started, time.Now(), report, err)

		if _, dbErr := database.AddRun(b.GetDB(), run); dbErr != nil {
			logrus.WithError(dbErr).Warn("recording resync run")
		}

		reply := backupReply(report, err)
		if err != nil {
			reply = "❌ " + reply
		}
		if sendErr := utils.SendFollowUp(s, i.Interaction, invoker, reply); sendErr != nil {
			logrus.WithError(sendErr).Error("backup report could not be delivered")
		}
		logBackup(cfg.LogWebhookURL, run.Status, reply)
	})
}

// logBackup posts the outcome to the operator log at a level matching the run status.
func logBackup(webhookURL, status, reply string) {
	var err error
	switch status {
	case model.RunSucceeded:
		err = utils.LogInfo(webhookURL, "Mirror", "Backup", reply)
	case model.RunPartial, model.RunRejected:
		err = utils.LogWarn(webhookURL, "Mirror", "Backup", reply)
	default:
		err = utils.LogError(webhookURL, "Mirror", "Backup", reply)
	}
	if err != nil {
		logrus.WithError(err).Warn("Failed to send backup log")
	}
}

func runRecord(cfg *model.Config, invoker string, started, finished time.Time, report *mirror.Report, err error) model.ResyncRun {
	run := model.ResyncRun{
		SourceGuildID:      cfg.SourceGuildID,
		DestinationGuildID: cfg.DestinationGuildID,
		InvokerID:          invoker,
		StartedAt:          started,
		FinishedAt:         finished,
	}
	switch {
	case errors.Is(err, mirror.ErrPermissionDenied), errors.Is(err, mirror.ErrResyncInProgress):
		run.Status = model.RunRejected
		run.Error = err.Error()
	case err != nil:
		run.Status = model.RunFailed
		run.Error = err.Error()
	case report.TotalFailed() > 0:
		run.Status = model.RunPartial
	default:
		run.Status = model.RunSucceeded
	}
	if report != nil {
		for _, n := range report.Created {
			run.Created += n
		}
		run.Failed = report.TotalFailed()
		run.Summary = report.Summary()
		run.StartedAt, run.FinishedAt = report.StartedAt, report.FinishedAt
	}
	return run
}

func backupReply(report *mirror.Report, err error) string {
	switch {
	case errors.Is(err, mirror.ErrPermissionDenied):
		return "You need Administrator in the source guild to run a backup."
	case errors.Is(err, mirror.ErrResyncInProgress):
		return "A backup is already running."
	case errors.Is(err, mirror.ErrNotFound):
		return "The source or destination guild could not be found. Check SOURCE_GUILD_ID and DESTINATION_GUILD_ID."
	case err != nil:
		return fmt.Sprintf("Backup failed: %v", err)
	}

	var b strings.Builder
	if report.TotalFailed() == 0 {
		b.WriteString("✅ Backup complete, ")
	} else {
		b.WriteString("⚠️ Backup finished with failures, ")
	}
	b.WriteString(report.Summary())
	for n, f := range report.Failures {
		if n == maxQuotedFailures {
			fmt.Fprintf(&b, "\n… and %d more", len(report.Failures)-maxQuotedFailures)
			break
		}
		fmt.Fprintf(&b, "\n- %v", f)
	}
	return b.String()
}
