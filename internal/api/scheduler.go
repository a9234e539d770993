package api

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/trendmind/trendmind/internal/models"
	"github.com/trendmind/trendmind/internal/orchestrator"
)

// Scheduler is the orchestrator surface exposed over RPC.
type Scheduler interface {
	Status(ctx context.Context) (*orchestrator.Status, error)
	Trigger(ctx context.Context, kind models.JobKind) (string, error)
	Job(ctx context.Context, jobID string) (*models.SearchJob, error)
}

// SchedulerAPI serves the scheduler.* methods.
type SchedulerAPI struct {
	scheduler Scheduler
}

// NewSchedulerAPI creates the scheduler methods.
func NewSchedulerAPI(s Scheduler) *SchedulerAPI {
	return &SchedulerAPI{scheduler: s}
}

// TriggerResult acknowledges a manual trigger.
type TriggerResult struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`
}

// GetStatus handles scheduler.get_status
func (a *SchedulerAPI) GetStatus(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	return a.scheduler.Status(c.Request.Context())
}

// GetJob handles scheduler.get_job
func (a *SchedulerAPI) GetJob(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		JobID string `json:"job_id"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if p.JobID == "" {
		return nil, InvalidParams("missing required parameter: job_id")
	}
	job, err := a.scheduler.Job(c.Request.Context(), p.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, NewError(ErrNotFound, "job "+p.JobID+" not found")
	}
	return job, nil
}

// TriggerSearch handles scheduler.trigger_search
func (a *SchedulerAPI) TriggerSearch(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	return a.trigger(c, models.JobTopicSearch)
}

// TriggerGeneration handles scheduler.trigger_generation
func (a *SchedulerAPI) TriggerGeneration(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	return a.trigger(c, models.JobAIGeneration)
}

// TriggerJob handles scheduler.trigger for any registered kind.
func (a *SchedulerAPI) TriggerJob(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Kind models.JobKind `json:"kind"`
	}
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Kind == "" {
		return nil, InvalidParams("missing required parameter: kind")
	}
	return a.trigger(c, p.Kind)
}

func (a *SchedulerAPI) trigger(c *gin.Context, kind models.JobKind) (interface{}, error) {
	id, err := a.scheduler.Trigger(c.Request.Context(), kind)
	if err != nil {
		return nil, err
	}
	return TriggerResult{JobID: id, Kind: string(kind)}, nil
}
