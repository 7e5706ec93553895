package application

import (
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// RunUpdate is the data of run:status-update and run:completed events.
// Results is the run's full result set and is only sent on run:completed.
type RunUpdate struct {
	RunID         string                `json:"runId"`
	ProjectID     string                `json:"projectId"`
	Status        model.RunStatus       `json:"status"`
	FailureReason string                `json:"failureReason,omitempty"`
	CompletedAt   *time.Time            `json:"completedAt,omitempty"`
	Summary       *model.ResultsSummary `json:"summary,omitempty"`
	Results       []ResultUpdate        `json:"results,omitempty"`
}

// ResultUpdate is the data of result:update events and the entries of a
// completed run's result set.
type ResultUpdate struct {
	ResultID       string             `json:"resultId"`
	RunID          string             `json:"runId"`
	Name           string             `json:"name"`
	Status         model.ResultStatus `json:"status"`
	BaselineURL    string             `json:"baselineUrl,omitempty"`
	CurrentURL     string             `json:"currentUrl,omitempty"`
	DiffURL        string             `json:"diffUrl,omitempty"`
	DiffPercentage *float64           `json:"diffPercentage,omitempty"`
	Approved       bool               `json:"approved"`
	Decision       model.Decision     `json:"decision"`
	ApprovedBy     string             `json:"approvedBy,omitempty"`
	ApprovedAt     *time.Time         `json:"approvedAt,omitempty"`
}

func toResultUpdate(res model.TestResult) ResultUpdate {
	return ResultUpdate{
		ResultID:       res.ID,
		RunID:          res.RunID,
		Name:           res.Name,
		Status:         res.Status,
		BaselineURL:    res.BaselineURL,
		CurrentURL:     res.CurrentURL,
		DiffURL:        res.DiffURL,
		DiffPercentage: res.DiffPercentage,
		Approved:       res.Approved,
		Decision:       res.Decision,
		ApprovedBy:     res.ApprovedBy,
		ApprovedAt:     res.ApprovedAt,
	}
}

// ProjectUpdate is the data of project:update events.
type ProjectUpdate struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// nopNotifier discards events. It stands in when no channel is wired.
type nopNotifier struct{}

func (nopNotifier) Publish(model.Event) {}

// orNop returns n, or a notifier that discards events when n is nil.
func orNop(n driven.Notifier) driven.Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

// publishRun sends a run event on both the run and project topics.
func publishRun(n driven.Notifier, eventType model.EventType, run model.TestRun, at time.Time) {
	publishRunWithResults(n, eventType, run, nil, at)
}

// publishRunWithResults is publishRun with the run's result set attached.
func publishRunWithResults(n driven.Notifier, eventType model.EventType, run model.TestRun, results []model.TestResult, at time.Time) {
	data := RunUpdate{
		RunID:         run.ID,
		ProjectID:     run.ProjectID,
		Status:        run.Status,
		FailureReason: run.FailureReason,
		CompletedAt:   run.CompletedAt,
		Summary:       run.Summary,
	}
	if results != nil {
		data.Results = make([]ResultUpdate, 0, len(results))
		for _, res := range results {
			data.Results = append(data.Results, toResultUpdate(res))
		}
	}
	for _, topic := range []string{model.RunTopic(run.ID), model.ProjectTopic(run.ProjectID)} {
		n.Publish(model.Event{Type: eventType, Topic: topic, Data: data, Timestamp: at})
	}
}

// publishResult sends a result:update event on the owning run's topic.
func publishResult(n driven.Notifier, res model.TestResult, at time.Time) {
	n.Publish(model.Event{
		Type:      model.EventResultUpdate,
		Topic:     model.RunTopic(res.RunID),
		Data:      toResultUpdate(res),
		Timestamp: at,
	})
}

// publishProject sends a project:update event on the project topic.
func publishProject(n driven.Notifier, p model.Project, deleted bool, at time.Time) {
	n.Publish(model.Event{
		Type:      model.EventProjectUpdate,
		Topic:     model.ProjectTopic(p.ID),
		Data:      ProjectUpdate{ProjectID: p.ID, Name: p.Name, Deleted: deleted},
		Timestamp: at,
	})
}
