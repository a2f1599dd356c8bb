package executor

import (
	"fmt"

	"actionforge.dev/recorder"
	"actionforge.dev/store"
)

// NewTaskDrivenExecutor builds the Executor for chunks whose content
// describes a concrete user task the Recorder should carry out and record
// as an action capability.
func NewTaskDrivenExecutor(newRecorder recorder.Factory, taskTimeout int) Executor {
	return &baseExecutor{
		name:        "task_driven",
		chunkType:   store.ChunkTaskDriven,
		newRecorder: newRecorder,
		taskTimeout: minutesToDuration(taskTimeout),
		buildPrompts: func(task *store.RecordingTask, chunk *store.ExpandedChunk) (string, string) {
			system := fmt.Sprintf(
				"You are recording a browser automation for %s. Follow the described task exactly, "+
					"capturing every interaction needed to reproduce it.",
				chunk.Domain,
			)
			user := fmt.Sprintf("Task description:\n%s\n\nSource page: %s", chunk.Content, chunk.SourceURL)
			return system, user
		},
	}
}
