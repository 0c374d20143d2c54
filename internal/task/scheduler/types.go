package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"flowup/internal/clock"
	"flowup/internal/eventbus"
	"flowup/internal/task/engine"
	logx "flowup/pkg/logx"

	"github.com/robfig/cron/v3"
)

var ErrStopped = errors.New("scheduler stopped")

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ for cron specs, e.g. "Europe/Madrid"
	// FireTimeout bounds a one-shot job when it runs. 0 uses the engine default.
	FireTimeout time.Duration
}

type Job = func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string
	every         time.Duration
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	running       *runGate
}

type onceDef struct {
	at    time.Time
	tag   int64
	job   Job
	ver   uint64
	timer clock.Timer
}

// runGate skips a recurring trigger while the previous run is queued or running.
type runGate struct {
	mu       sync.Mutex
	inflight bool
}

func (g *runGate) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight {
		return false
	}
	g.inflight = true
	return true
}

func (g *runGate) release() {
	g.mu.Lock()
	g.inflight = false
	g.mu.Unlock()
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	bus   eventbus.Bus
	clock clock.Clock

	engine *engine.Service

	parser  cron.Parser
	c       *cron.Cron
	defs    []scheduleDef
	started bool
	stopped bool
	runCtx  context.Context
	cancel  context.CancelFunc

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// One-shot definitions outlive Stop/Start; timers are runtime only.
	tmu     sync.Mutex
	once    map[string]*onceDef
	onceVer map[string]uint64
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
}

type OnceInfo struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
	Tag int64     `json:"tag"`
}

type Snapshot struct {
	Started   bool            `json:"started"`
	Timezone  string          `json:"timezone"`
	Schedules []ScheduleInfo  `json:"schedules"`
	Once      []OnceInfo      `json:"once"`
	Engine    engine.Snapshot `json:"engine"`
}
