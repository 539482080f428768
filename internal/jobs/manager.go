package jobs

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pdellaert/fbw-installer/internal/config"
	"github.com/pdellaert/fbw-installer/internal/plugins"
	"github.com/pdellaert/fbw-installer/internal/websocket"
)

// JobContext is an interface that provides the necessary dependencies for a job to run.
// The core.App struct will implement this interface.
type JobContext interface {
	Config() *config.Config
	WsHub() *websocket.Hub
	JobManager() *JobManager
	InstallManager() plugins.Installer
}

type jobTask func(ctx JobContext) error

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]jobTask
	status  map[string]*JobStatus
	running bool
	appCtx  JobContext // Store the app context for scheduled jobs
}

func NewManager(appCtx JobContext) *JobManager {
	return &JobManager{
		jobs:   make(map[string]jobTask),
		status: make(map[string]*JobStatus),
		appCtx: appCtx,
	}
}

func (jm *JobManager) Register(id, name string, task jobTask) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = task
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: "idle"}
}

// RunJob starts a registered job in the background. Only one job runs at a time.
func (jm *JobManager) RunJob(id string, ctx JobContext) error {
	jm.mu.Lock()
	if jm.running {
		jm.mu.Unlock()
		return fmt.Errorf("a job is already running")
	}

	task, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("job '%s' not found", id)
	}

	jm.running = true
	status := jm.status[id]
	status.Status = "running"
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	jm.mu.Unlock()

	log.Printf("Starting job: %s", id)
	go func() {
		var taskErr error
		defer func() {
			jm.mu.Lock()
			if r := recover(); r != nil {
				log.Printf("Job '%s' panicked: %v", id, r)
				status.Status = "failed"
				status.Message = fmt.Sprintf("Job panicked: %v", r)
			} else if taskErr != nil {
				log.Printf("Job '%s' failed: %v", id, taskErr)
				status.Status = "failed"
				status.Message = taskErr.Error()
			} else {
				status.Status = "success"
				status.Message = "Job completed successfully."
			}
			status.EndTime = time.Now()
			jm.running = false
			jm.mu.Unlock()
			log.Printf("Finished job: %s", id)
		}()

		taskErr = task(ctx)
	}()
	return nil
}

// GetStatus returns a snapshot of every registered job, ordered by id.
func (jm *JobManager) GetStatus() []JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}
