package journal

import (
	"github.com/bitswalk/opikb/src/common/logs"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
)

// Recorder writes stage outcomes of one run to the journal. Write errors
// are logged and never reach the pipeline.
type Recorder struct {
	journal *Journal
	runID   string
	log     *logs.Logger
}

// NewRecorder creates a pipeline observer for runID
func NewRecorder(j *Journal, runID string, log *logs.Logger) *Recorder {
	return &Recorder{journal: j, runID: runID, log: log.With("run", runID)}
}

// StageStarted implements pipeline.Observer
func (r *Recorder) StageStarted(name string) {}

// StageFinished implements pipeline.Observer
func (r *Recorder) StageFinished(o pipeline.Outcome) {
	if err := r.journal.RecordStage(r.runID, o); err != nil {
		r.log.Debug("Failed to journal stage outcome", "stage", o.Stage, "error", err)
	}
}
