package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentHourCellReflectsProcessedEvent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	now := time.Now().UTC()
	day := now.Weekday().String()[:3]
	event := sampleEvent("cur1", 3.0, now.Hour(), day)
	event.Timestamp = now
	e.ProcessEvent(ctx, event)

	cell, maxHourlyCount, _, ok := e.CurrentHourCell()
	require.True(t, ok)
	assert.EqualValues(t, 1, cell.EventCount)
	assert.EqualValues(t, 1, maxHourlyCount)
	assert.True(t, cell.AvgSpreadPercent.Equal(event.SpreadPercent))
}

func TestCurrentHourCellMissingReturnsNotOK(t *testing.T) {
	e, _ := newTestEngine(t)
	_, _, _, ok := e.CurrentHourCell()
	assert.False(t, ok)
}

func TestRecentHourlySpreadsReturnsTodaysSeries(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	now := time.Now().UTC()
	day := now.Weekday().String()[:3]
	event := sampleEvent("ser1", 1.25, now.Hour(), day)
	event.Timestamp = now
	e.ProcessEvent(ctx, event)

	series := e.RecentHourlySpreads()
	require.NotEmpty(t, series)
	assert.Equal(t, 1.25, series[len(series)-1])
}
