package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/dontnod/pergit/internal/bridge"
)

// RunStartedData describes a starting run.
type RunStartedData struct {
	Branch  string `json:"branch"`
	Trigger string `json:"trigger"`
}

// UnitStageData reports the progress of one unit.
type UnitStageData struct {
	Direction  string `json:"direction"`
	Changelist int    `json:"changelist,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Stage      string `json:"stage"`
}

// RunFinishedData summarizes a completed run.
type RunFinishedData struct {
	Branch             string   `json:"branch"`
	Outcome            string   `json:"outcome"`
	Checkpoint         string   `json:"checkpoint,omitempty"`
	PendingChangelists int      `json:"pending_changelists"`
	PendingCommits     int      `json:"pending_commits"`
	Applied            []string `json:"applied,omitempty"`
	Duration           float64  `json:"duration_seconds"`
}

// RunFailedData describes a failed run.
type RunFailedData struct {
	Branch string `json:"branch"`
	Error  string `json:"error"`
}

// Publisher turns synchronization events into dashboard messages.
type Publisher struct {
	server *Server
	branch string
	logger *log.Logger
}

// NewPublisher creates a publisher for branch.
func NewPublisher(server *Server, branch string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = server.logger
	}
	return &Publisher{server: server, branch: branch, logger: logger}
}

// RunStarted announces a run.
func (p *Publisher) RunStarted(trigger string) {
	p.send(MessageTypeRunStarted, RunStartedData{Branch: p.branch, Trigger: trigger})
}

// Observer returns a bridge.Observer publishing unit stages.
func (p *Publisher) Observer() bridge.Observer {
	return func(u bridge.Unit, s bridge.Stage) {
		p.send(MessageTypeUnitStage, UnitStageData{
			Direction:  u.Direction.String(),
			Changelist: u.Changelist,
			Commit:     u.Commit,
			Stage:      s.String(),
		})
	}
}

// RunFinished publishes the result of a run.
func (p *Publisher) RunFinished(res *bridge.Result, took time.Duration) {
	data := RunFinishedData{
		Branch:             res.Branch,
		Outcome:            res.Outcome.Kind.String(),
		PendingChangelists: len(res.Outcome.Changelists),
		PendingCommits:     len(res.Outcome.Commits),
		Duration:           took.Seconds(),
	}
	if latest := res.Latest(); !latest.IsZero() {
		data.Checkpoint = latest.Tag
	}
	for _, cp := range res.Applied {
		data.Applied = append(data.Applied, cp.Tag)
	}
	p.send(MessageTypeRunFinished, data)
}

// RunFailed publishes a run error.
func (p *Publisher) RunFailed(err error) {
	p.send(MessageTypeRunFailed, RunFailedData{Branch: p.branch, Error: err.Error()})
}

func (p *Publisher) send(t MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Printf("Failed to marshal %s data: %v", t, err)
		return
	}
	p.server.Broadcast(Message{Type: t, Timestamp: time.Now(), Data: data})
}
