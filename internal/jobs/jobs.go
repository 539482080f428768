package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/pdellaert/fbw-installer/internal/models"
)

const PluginUpdateCheckJob = "plugin-update-check"

// RegisterJobs makes the built-in jobs available for manual and scheduled runs.
func RegisterJobs(jm *JobManager) {
	jm.Register(PluginUpdateCheckJob, "Plugin Update Check", RunPluginUpdateCheck)
}

// StartJobs starts the background job scheduler.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	startPluginUpdateCheckJob(s, app)

	log.Println("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func startPluginUpdateCheckJob(s *gocron.Scheduler, app JobContext) {
	interval := app.Config().Plugins.UpdateCheckInterval
	if interval == 0 {
		log.Println("Plugin update check interval is 0, scheduled checks are disabled.")
		return
	}

	jobId := PluginUpdateCheckJob
	log.Printf("Scheduling job: '%s' to run every %d minutes.", jobId, interval)

	_, err := s.Every(interval).Minutes().Do(func() {
		log.Println("Scheduler is triggering job:", jobId)
		// Submit the job to the manager instead of running it directly.
		// This prevents conflicts with manually triggered jobs.
		err := app.JobManager().RunJob(jobId, app)
		if err != nil {
			log.Printf("Scheduled job '%s' could not start: %v", jobId, err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling '%s' job: %v", jobId, err)
	}
}

// RunPluginUpdateCheck checks every installed plugin for a newer release
// and broadcasts the result.
func RunPluginUpdateCheck(ctx JobContext) error {
	// Individual requests are bounded by plugins.http_timeout; this caps the batch.
	checkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	updates, err := ctx.InstallManager().CheckForUpdates(checkCtx)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}

	log.Printf("Plugin update check found %d update(s)", len(updates))
	ctx.WsHub().BroadcastJSON(models.PluginEvent{
		Type:    models.EventUpdatesAvailable,
		Message: fmt.Sprintf("%d update(s) available", len(updates)),
		Updates: updates,
	})
	return nil
}
