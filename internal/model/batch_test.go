package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StageArchivist, StageTranslator))
	assert.True(t, CanTransition(StageTranslator, StageImport))
	assert.True(t, CanTransition(StageTranslator, StageTranslatorReview))
	assert.True(t, CanTransition(StageTranslatorReview, StageImport))
	assert.True(t, CanTransition(StageImport, StageAuditor))
	assert.True(t, CanTransition(StageAuditor, StageImprovement))
	assert.True(t, CanTransition(StageImprovement, StageComplete))

	// Completed batches reopen only for re-audit and re-learning.
	assert.True(t, CanTransition(StageComplete, StageAuditor))
	assert.True(t, CanTransition(StageComplete, StageImprovement))

	// The gate cannot be skipped backwards or forwards illegally.
	assert.False(t, CanTransition(StageTranslatorReview, StageAuditor))
	assert.False(t, CanTransition(StageArchivist, StageImport))
	assert.False(t, CanTransition(StageComplete, StageTranslator))
	assert.False(t, CanTransition(StageComplete, StageImport))
	assert.False(t, CanTransition(StageFailed, StageTranslator))
}

func TestCanTransition_FailedFromAnywhere(t *testing.T) {
	for _, from := range []Stage{StageArchivist, StageTranslator, StageTranslatorReview, StageImport, StageAuditor, StageImprovement} {
		assert.True(t, CanTransition(from, StageFailed), "from %s", from)
	}
}

func TestStage_Terminal(t *testing.T) {
	assert.True(t, StageComplete.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.True(t, StageStopped.Terminal())
	assert.False(t, StageTranslatorReview.Terminal())
}

func TestMilestoneFor(t *testing.T) {
	stage, ok := MilestoneFor(FieldETD)
	assert.True(t, ok)
	assert.Equal(t, EventDeparted, stage)

	_, ok = MilestoneFor(FieldLastFreeDay)
	assert.False(t, ok, "LFD is a deadline, not a milestone")
}
