package worker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxwarm/models"
)

func TestWarmupCompletesAllLeads(t *testing.T) {
	db, _, manager, domain := newTestEnv(t, 2, testOptions())

	session, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionPending, session.Status)

	final := waitSessionStatus(t, db, session.ID, models.SessionCompleted)
	assert.Equal(t, 2, final.CurrentLeadIndex)
	require.NotNil(t, final.CompletedAt)
	assert.Nil(t, final.ErrorMessage)
	assert.Equal(t, models.DomainStatusIdle, domainStatus(t, db, domain.ID))

	entries := sessionLogs(t, db, session.ID)
	require.Len(t, entries, 8)

	wantDirections := []string{
		models.DirectionSent, models.DirectionReceived, models.DirectionReplied, models.DirectionReceived,
		models.DirectionSent, models.DirectionReceived, models.DirectionReplied, models.DirectionReceived,
	}
	wantLeadIndex := []int{0, 0, 0, 0, 1, 1, 1, 1}
	for i, entry := range entries {
		assert.Equal(t, wantDirections[i], entry.Direction, "entry %d", i)
		assert.Equal(t, wantLeadIndex[i], entry.LeadIndex, "entry %d", i)
	}

	// One lead cycle end to end: the observed message carries the sent id,
	// and the reply threads onto it
	assert.Equal(t, "warm@domain.example", entries[0].FromAddress)
	assert.Equal(t, "lead1@leads.example", entries[0].ToAddress)
	assert.Equal(t, entries[0].MessageID, entries[1].MessageID)
	assert.Equal(t, "lead1@leads.example", entries[2].FromAddress)
	assert.Equal(t, "warm@domain.example", entries[2].ToAddress)
	assert.Equal(t, entries[0].MessageID, entries[2].InReplyTo)
	assert.Equal(t, entries[2].MessageID, entries[3].MessageID)

	status, err := manager.Status(domain.ID)
	require.NoError(t, err)
	assert.Nil(t, status.Active)
	assert.True(t, status.CompletedToday)
	require.NotNil(t, status.Session)
	assert.Equal(t, models.SessionCompleted, status.Session.Status)

	_, err = manager.StartWarmup(domain.ID)
	assert.ErrorIs(t, err, ErrCompletedToday)
}

func TestTimeoutSkipsLeadWithoutRetry(t *testing.T) {
	opts := testOptions()
	opts.WaitTimeout = 150 * time.Millisecond
	db, net, manager, domain := newTestEnv(t, 2, opts)

	// Mail to the first lead vanishes, so its cycle can only time out
	net.drop("lead1@leads.example")

	session, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)

	final := waitSessionStatus(t, db, session.ID, models.SessionCompleted)
	assert.Equal(t, 2, final.CurrentLeadIndex)

	entries := sessionLogs(t, db, session.ID)
	require.Len(t, entries, 5, "one orphan send for the skipped lead, a full cycle for the second")
	assert.Equal(t, models.DirectionSent, entries[0].Direction)
	assert.Equal(t, 0, entries[0].LeadIndex)
	for _, entry := range entries[1:] {
		assert.Equal(t, 1, entry.LeadIndex)
	}
}

func TestPauseAndResume(t *testing.T) {
	opts := testOptions()
	opts.WaitTimeout = 30 * time.Second
	db, net, manager, domain := newTestEnv(t, 2, opts)

	// Strand the run in its first wait
	net.drop("lead1@leads.example")

	session, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)
	waitSessionStatus(t, db, session.ID, models.SessionWaitingReply)

	paused, err := manager.Pause(domain.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPaused, paused.Status)
	assert.Equal(t, 0, paused.CurrentLeadIndex)
	assert.Equal(t, models.DomainStatusPaused, domainStatus(t, db, domain.ID))

	status, err := manager.Status(domain.ID)
	require.NoError(t, err)
	assert.Nil(t, status.Active, "paused runs have no live orchestrator")

	// Pausing again is a no-op on the same row
	pausedAgain, err := manager.Pause(domain.ID)
	require.NoError(t, err)
	assert.Equal(t, paused.ID, pausedAgain.ID)
	assert.Equal(t, models.SessionPaused, pausedAgain.Status)

	sends := net.sentCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sends, net.sentCount(), "a paused run must not keep sending")

	net.undrop("lead1@leads.example")
	resumed, err := manager.Resume(domain.ID)
	require.NoError(t, err)
	assert.Equal(t, paused.ID, resumed.ID, "resume reuses the same daily row")
	assert.Equal(t, 0, resumed.CurrentLeadIndex, "resume picks up at the stored index")

	final := waitSessionStatus(t, db, session.ID, models.SessionCompleted)
	assert.Equal(t, 2, final.CurrentLeadIndex)

	// First send was dropped pre-pause, the resumed run re-sends to lead 1
	entries := sessionLogs(t, db, session.ID)
	assert.Len(t, entries, 9)
}

func TestStopFailsSessionTerminally(t *testing.T) {
	opts := testOptions()
	opts.WaitTimeout = 30 * time.Second
	db, net, manager, domain := newTestEnv(t, 2, opts)

	net.drop("lead1@leads.example")

	session, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)
	waitSessionStatus(t, db, session.ID, models.SessionWaitingReply)

	stopped, err := manager.Stop(domain.ID)
	require.NoError(t, err)
	require.NotNil(t, stopped)
	assert.Equal(t, models.SessionFailed, stopped.Status)
	require.NotNil(t, stopped.ErrorMessage)
	assert.Equal(t, StopReason, *stopped.ErrorMessage)
	assert.Equal(t, models.DomainStatusIdle, domainStatus(t, db, domain.ID))

	// Stopping with nothing left to stop is a quiet no-op
	again, err := manager.Stop(domain.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	// A fresh start resets the same daily row and runs it to the end
	net.undrop("lead1@leads.example")
	restarted, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, restarted.ID)
	assert.Equal(t, 0, restarted.CurrentLeadIndex)

	final := waitSessionStatus(t, db, session.ID, models.SessionCompleted)
	assert.Equal(t, 2, final.CurrentLeadIndex)
	assert.Nil(t, final.ErrorMessage)
}

func TestAppendedLeadsReopenCompletedDay(t *testing.T) {
	db, _, manager, domain := newTestEnv(t, 2, testOptions())

	session, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)
	waitSessionStatus(t, db, session.ID, models.SessionCompleted)

	_, err = manager.StartWarmup(domain.ID)
	require.ErrorIs(t, err, ErrCompletedToday)

	createLead(t, db, "Lead 3", "lead3@leads.example")

	status, err := manager.Status(domain.ID)
	require.NoError(t, err)
	assert.False(t, status.CompletedToday, "a new lead reopens the day")

	reopened, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, reopened.ID)
	assert.Equal(t, 2, reopened.CurrentLeadIndex, "already-cycled leads are not repeated")
	assert.Nil(t, reopened.CompletedAt)

	final := waitSessionStatus(t, db, session.ID, models.SessionCompleted)
	assert.Equal(t, 3, final.CurrentLeadIndex)
	require.NotNil(t, final.CompletedAt)

	entries := sessionLogs(t, db, session.ID)
	require.Len(t, entries, 12)
	for _, entry := range entries[8:] {
		assert.Equal(t, 2, entry.LeadIndex)
	}
}

func TestConcurrentStartLaunchesOneRun(t *testing.T) {
	opts := testOptions()
	opts.WaitTimeout = 30 * time.Second
	db, net, manager, domain := newTestEnv(t, 2, opts)

	net.drop("lead1@leads.example")

	const starters = 8
	var wg sync.WaitGroup
	results := make(chan error, starters)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.StartWarmup(domain.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var launched, rejected int
	for err := range results {
		switch {
		case err == nil:
			launched++
		case errors.Is(err, ErrAlreadyRunning):
			rejected++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	assert.Equal(t, 1, launched)
	assert.Equal(t, starters-1, rejected)

	var count int64
	require.NoError(t, db.Model(&models.WarmupSession{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	_, err := manager.Stop(domain.ID)
	require.NoError(t, err)
}

func TestStartValidation(t *testing.T) {
	db, _, manager, domain := newTestEnv(t, 0, testOptions())

	_, err := manager.StartWarmup(999)
	assert.ErrorIs(t, err, ErrDomainNotFound)

	_, err = manager.StartWarmup(domain.ID)
	assert.ErrorIs(t, err, ErrNoLeads)

	_, err = manager.Status(999)
	assert.ErrorIs(t, err, ErrDomainNotFound)

	_, err = manager.Pause(domain.ID)
	assert.ErrorIs(t, err, ErrNotRunning)

	var count int64
	require.NoError(t, db.Model(&models.WarmupSession{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "rejected starts must not leave session rows")
}

func TestSendFailureFailsSession(t *testing.T) {
	db, net, manager, domain := newTestEnv(t, 2, testOptions())

	net.failSendsTo("lead1@leads.example", errors.New("550 mailbox unavailable"))

	session, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)

	final := waitSessionStatus(t, db, session.ID, models.SessionFailed)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "550 mailbox unavailable")
	assert.Equal(t, 0, final.CurrentLeadIndex)
	assert.Equal(t, models.DomainStatusIdle, domainStatus(t, db, domain.ID))

	status, err := manager.Status(domain.ID)
	require.NoError(t, err)
	assert.Nil(t, status.Active)
	assert.False(t, status.CompletedToday)
}

func TestShutdownPausesLiveRuns(t *testing.T) {
	opts := testOptions()
	opts.WaitTimeout = 30 * time.Second
	db, net, manager, domain := newTestEnv(t, 2, opts)

	net.drop("lead1@leads.example")

	session, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)
	waitSessionStatus(t, db, session.ID, models.SessionWaitingReply)

	manager.Shutdown()

	paused := waitSessionStatus(t, db, session.ID, models.SessionPaused)
	assert.Equal(t, 0, paused.CurrentLeadIndex)
	assert.Equal(t, models.DomainStatusPaused, domainStatus(t, db, domain.ID))
	assert.Empty(t, manager.RunningIDs())
}

func TestStatusDuringLiveRun(t *testing.T) {
	opts := testOptions()
	opts.WaitTimeout = 30 * time.Second
	db, net, manager, domain := newTestEnv(t, 3, opts)

	net.drop("lead2@leads.example")

	session, err := manager.StartWarmup(domain.ID)
	require.NoError(t, err)

	// Lead 1 completes, lead 2 strands the run in waiting_reply at index 1
	require.Eventually(t, func() bool {
		var s models.WarmupSession
		if err := db.First(&s, session.ID).Error; err != nil {
			return false
		}
		return s.CurrentLeadIndex == 1 && s.Status == models.SessionWaitingReply
	}, 10*time.Second, 10*time.Millisecond)

	status, err := manager.Status(domain.ID)
	require.NoError(t, err)
	require.NotNil(t, status.Active)
	assert.Equal(t, 1, status.Active.CurrentLeadIndex)
	assert.Equal(t, 3, status.Active.TotalLeads)
	assert.False(t, status.Active.IsPaused)
	assert.False(t, status.CompletedToday)

	_, err = manager.Stop(domain.ID)
	require.NoError(t, err)
}

func TestRandomDelayBounds(t *testing.T) {
	min, max := 10*time.Millisecond, 20*time.Millisecond
	for i := 0; i < 200; i++ {
		d := randomDelay(min, max)
		assert.GreaterOrEqual(t, d, min)
		assert.LessOrEqual(t, d, max)
	}
	assert.Equal(t, min, randomDelay(min, min))
	assert.Equal(t, max, randomDelay(max, min), "inverted bounds collapse to the first argument")
}
