package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/marcus-qen/agentverify/internal/challenge"
	"github.com/marcus-qen/agentverify/internal/clock"
	"github.com/marcus-qen/agentverify/internal/config"
	"github.com/marcus-qen/agentverify/internal/events"
	"github.com/marcus-qen/agentverify/internal/fingerprint"
	"github.com/marcus-qen/agentverify/internal/metrics"
	"github.com/marcus-qen/agentverify/internal/scoring"
	"github.com/marcus-qen/agentverify/internal/spotcheck"
	"github.com/marcus-qen/agentverify/internal/store"
	"github.com/marcus-qen/agentverify/internal/tier"
	"github.com/marcus-qen/agentverify/internal/webhook"
)

// Controller owns gauntlet sessions, tier state, and spot-check windows
// for every agent, and drives the periodic tick. It holds no
// package-level state (SPEC_FULL.md §9): everything lives on this
// struct, reached only through a Controller instance.
type Controller struct {
	mu       sync.Mutex
	sessions map[string]*Session

	tierStates  map[string]*tier.State
	spotWindows map[string]*spotcheck.Window

	library     *challenge.Library
	dispatcher  *webhook.Dispatcher
	records     store.Store
	tierMachine *tier.Machine
	sampler     *spotcheck.Sampler
	bus         *events.Bus
	clk         clock.Clock

	fingerprinter fingerprint.Fingerprinter
	profiler      fingerprint.PersonalityProfiler

	gauntletCfg config.GauntletConfig
	tierCfg     config.TierConfig

	metrics *metrics.Metrics
	log     logr.Logger
}

// Deps bundles a Controller's collaborators.
type Deps struct {
	Library       *challenge.Library
	Dispatcher    *webhook.Dispatcher
	Records       store.Store
	TierMachine   *tier.Machine
	Sampler       *spotcheck.Sampler
	Bus           *events.Bus
	Clock         clock.Clock
	Fingerprinter fingerprint.Fingerprinter
	Profiler      fingerprint.PersonalityProfiler
	Gauntlet      config.GauntletConfig
	Tier          config.TierConfig
	Metrics       *metrics.Metrics
	Log           logr.Logger
}

// New builds a Controller over the given collaborators.
func New(d Deps) *Controller {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	return &Controller{
		sessions:      make(map[string]*Session),
		tierStates:    make(map[string]*tier.State),
		spotWindows:   make(map[string]*spotcheck.Window),
		library:       d.Library,
		dispatcher:    d.Dispatcher,
		records:       d.Records,
		tierMachine:   d.TierMachine,
		sampler:       d.Sampler,
		bus:           d.Bus,
		clk:           d.Clock,
		fingerprinter: d.Fingerprinter,
		profiler:      d.Profiler,
		gauntletCfg:   d.Gauntlet,
		tierCfg:       d.Tier,
		metrics:       d.Metrics,
		log:           d.Log,
	}
}

// StartSession builds and persists a fresh 3-day gauntlet schedule for
// agentID, per SPEC_FULL.md §4.4's five-step procedure.
func (c *Controller) StartSession(ctx context.Context, agentID, webhookURL string) (*Session, error) {
	cfg := c.gauntletCfg
	now := c.clk.Now()

	// Step 1: draw total challenge count.
	spread := cfg.GauntletDays * (cfg.ChallengesPerDayMax - cfg.ChallengesPerDayMin)
	total := cfg.ChallengesPerDayMin*cfg.GauntletDays + randIntn(spread+1)

	// Step 2: burst count.
	numBursts := ceilDiv(total, cfg.BurstSize)

	// Step 3: night bursts, one per day for the first min(MinNightChallenges, GauntletDays) days.
	//
	// Each gauntlet day d spans the elapsed-time bucket [now+d*24h,
	// now+(d+1)*24h) -- the same bucket Step 5 below uses to assign
	// DayIndex. The night burst is placed at the first real UTC [01:00,
	// 06:00) window that starts inside that bucket. Such a window always
	// exists (a 24h-periodic, <24h-long window always has exactly one
	// occurrence starting inside any half-open 24h span) and its start is
	// never before the bucket's own start, so day 0's night burst can
	// never land before started_at the way anchoring to calendar midnight
	// could. Capping the offset at the bucket's end keeps the burst's
	// elapsed time inside its bucket, so its DayIndex always agrees with
	// loop index day.
	nightDays := minInt(cfg.MinNightChallenges, cfg.GauntletDays)
	nightTimestamps := make([]time.Time, 0, nightDays)
	for day := 0; day < nightDays; day++ {
		dayWindowStart := now.Add(time.Duration(day) * 24 * time.Hour)
		dayWindowEnd := dayWindowStart.Add(24 * time.Hour)

		anchor := utcMidnight(dayWindowStart).Add(time.Hour) // that day's 01:00 UTC
		if anchor.Before(dayWindowStart) {
			anchor = anchor.Add(24 * time.Hour)
		}
		maxOffset := 5 * time.Hour // [0, 5h) past 01:00
		if span := dayWindowEnd.Sub(anchor); span < maxOffset {
			maxOffset = span
		}
		offset := time.Duration(randIntn(int(maxOffset.Seconds()))) * time.Second
		nightTimestamps = append(nightTimestamps, anchor.Add(offset))
	}

	// Step 4: fill remaining bursts uniformly across the gauntlet window.
	windowDur := time.Duration(cfg.GauntletDays) * 24 * time.Hour
	remaining := numBursts - nightDays
	allTimestamps := append([]time.Time{}, nightTimestamps...)
	for i := 0; i < remaining; i++ {
		offset := time.Duration(randIntn(int(windowDur.Seconds()))) * time.Second
		allTimestamps = append(allTimestamps, now.Add(offset))
	}

	// Step 5: sort timestamps, draw templates without replacement, and
	// assign BURST_SIZE consecutive challenges to each burst.
	sortTimes(allTimestamps)
	nightSet := make(map[time.Time]bool, len(nightTimestamps))
	for _, t := range nightTimestamps {
		nightSet[t] = true
	}

	templates := c.library.GenerateGauntletSet(total)
	endsAt := now.Add(windowDur)

	sess := &Session{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		WebhookURL: webhookURL,
		Status:     StatusPending,
		StartedAt:  now,
		EndsAt:     endsAt,
		Instances:  make(map[string]*ChallengeInstance, total),
	}
	days := make([]DayGroup, cfg.GauntletDays)
	for i := range days {
		days[i] = DayGroup{Index: i}
	}

	templateIdx := 0
	for _, burstTime := range allTimestamps {
		dayIndex := minInt(int(burstTime.Sub(now)/(24*time.Hour)), cfg.GauntletDays-1)
		days[dayIndex].BurstTimestamps = append(days[dayIndex].BurstTimestamps, burstTime)

		for i := 0; i < cfg.BurstSize && templateIdx < len(templates); i++ {
			tpl := templates[templateIdx]
			templateIdx++
			inst := &ChallengeInstance{
				ID:                uuid.NewString(),
				TemplateID:        tpl.TemplateID,
				Category:          string(tpl.Category),
				Subcategory:       tpl.Subcategory,
				Prompt:            tpl.Prompt,
				ExpectedFormat:    tpl.ExpectedFormat,
				GroundTruthExists: tpl.GroundTruth.Exists,
				ScheduledFor:      burstTime,
				Status:            scoring.Pending,
				IsNightChallenge:  nightSet[burstTime],
				DayIndex:          dayIndex,
			}
			sess.Instances[inst.ID] = inst
			days[dayIndex].InstanceIDs = append(days[dayIndex].InstanceIDs, inst.ID)
		}
	}
	sess.DailyChallenges = days

	c.mu.Lock()
	c.sessions[sess.ID] = sess
	c.mu.Unlock()

	if err := c.persistSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	c.bus.Publish(events.Event{
		Type:      events.SessionStarted,
		AgentID:   agentID,
		SessionID: sess.ID,
		Summary:   "gauntlet session started",
		Timestamp: now,
	})

	return sess, nil
}

// Session returns the in-memory session by ID, if known to this
// Controller instance.
func (c *Controller) Session(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// RescheduleNextBurstForTesting moves the earliest pending burst's
// timestamp to now+1s (§4.4's test-mode entry point).
func (c *Controller) RescheduleNextBurstForTesting(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	var earliest time.Time
	found := false
	for _, inst := range sess.Instances {
		if inst.Status != scoring.Pending {
			continue
		}
		if !found || inst.ScheduledFor.Before(earliest) {
			earliest = inst.ScheduledFor
			found = true
		}
	}
	if !found {
		return fmt.Errorf("session %s has no pending instances", sessionID)
	}

	next := c.clk.Now().Add(time.Second)
	for _, inst := range sess.Instances {
		if inst.Status == scoring.Pending && inst.ScheduledFor.Equal(earliest) {
			inst.ScheduledFor = next
		}
	}
	return nil
}

func (c *Controller) persistSession(ctx context.Context, s *Session) error {
	rec := store.Session{
		ID:                   s.ID,
		AgentID:              s.AgentID,
		Status:               string(s.Status),
		StartedAt:            s.StartedAt,
		EndsAt:               s.EndsAt,
		CompletedAt:          s.CompletedAt,
		FailureReason:        s.FailureReason,
		AutonomyScore:        s.AutonomyResult.Score,
		AutonomyVerdict:      string(s.AutonomyResult.Verdict),
		ModelDetectionScores: s.ModelDetectionScores,
	}
	return c.records.PutSession(ctx, rec)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(n)
}

func sortTimes(times []time.Time) {
	for i := 1; i < len(times); i++ {
		for j := i; j > 0 && times[j].Before(times[j-1]); j-- {
			times[j], times[j-1] = times[j-1], times[j]
		}
	}
}

func utcMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
