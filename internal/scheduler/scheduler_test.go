package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpr_AcceptsSixAndFiveField(t *testing.T) {
	_, err := parseCronExpr("*/5 * * * * *")
	require.NoError(t, err)

	_, err = parseCronExpr("*/5 * * * *")
	require.NoError(t, err)
}

func TestParseCronExpr_RejectsGarbage(t *testing.T) {
	_, err := parseCronExpr("not a cron expression")
	assert.Error(t, err)
}

func TestScheduler_AddFunc_RunsOnSchedule(t *testing.T) {
	s := New()

	var mu sync.Mutex
	runs := 0
	_, err := s.AddFunc("* * * * * *", func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})
	require.NoError(t, err)

	s.Start()
	time.Sleep(1200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, runs, 1)
}
