package episode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDStableAcrossReruns(t *testing.T) {
	a := NewID("guid-123", "Title A", "https://example.com/a.mp3")
	b := NewID("guid-123", "Title B", "https://example.com/different.mp3")
	assert.Equal(t, a, b, "guid alone determines identity when present")
}

func TestNewIDFallsBackToTitleAndURL(t *testing.T) {
	a := NewID("", "Episode One", "https://example.com/a.mp3")
	b := NewID("", "Episode One", "https://example.com/a.mp3")
	c := NewID("", "Episode Two", "https://example.com/a.mp3")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewIDDistinguishesGuidFromTitleURL(t *testing.T) {
	withGUID := NewID("same", "T", "U")
	withoutGUID := NewID("", "T", "U")
	assert.NotEqual(t, withGUID, withoutGUID)
}

func TestNextStageSkipsCompleted(t *testing.T) {
	e := &Episode{CompletedStages: []Stage{StageDiscover, StageTranscribe}}
	next, ok := e.NextStage()
	assert.True(t, ok)
	assert.Equal(t, StageIdentifySpeakers, next)
}

func TestNextStageAllCompleteReturnsFalse(t *testing.T) {
	e := &Episode{CompletedStages: append([]Stage{}, Stages...)}
	_, ok := e.NextStage()
	assert.False(t, ok)
}

func TestMarkStageCompleteIsIdempotent(t *testing.T) {
	e := &Episode{}
	e.MarkStageComplete(StageDiscover)
	e.MarkStageComplete(StageDiscover)
	assert.Equal(t, []Stage{StageDiscover}, e.CompletedStages)
}

func TestHasCompletedStage(t *testing.T) {
	e := &Episode{CompletedStages: []Stage{StageStore}}
	assert.True(t, e.HasCompletedStage(StageStore))
	assert.False(t, e.HasCompletedStage(StageMove))
}
