package executor

import (
	"fmt"
	"time"

	"actionforge.dev/recorder"
	"actionforge.dev/store"
)

// NewExploratoryExecutor builds the Executor for chunks with no single
// prescribed task: the Recorder explores the page's available actions and
// records whatever capability it discovers.
func NewExploratoryExecutor(newRecorder recorder.Factory, taskTimeout int) Executor {
	return &baseExecutor{
		name:        "exploratory",
		chunkType:   store.ChunkExploratory,
		newRecorder: newRecorder,
		taskTimeout: minutesToDuration(taskTimeout),
		buildPrompts: func(task *store.RecordingTask, chunk *store.ExpandedChunk) (string, string) {
			system := fmt.Sprintf(
				"You are exploring %s to discover a useful, reproducible action capability. "+
					"There is no prescribed task: identify one coherent interaction worth automating.",
				chunk.Domain,
			)
			user := fmt.Sprintf("Page content for context:\n%s\n\nSource page: %s", chunk.Content, chunk.SourceURL)
			return system, user
		},
	}
}

func minutesToDuration(minutes int) time.Duration {
	if minutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(minutes) * time.Minute
}
