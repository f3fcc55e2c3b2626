package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "otpbot/pkg/logx"
)

type Config struct {
	Timezone    string // IANA TZ; empty means Local
	HistorySize int    // default 50
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
	Skipped  bool
}

type runState struct {
	mu      sync.Mutex
	running bool
}

type scheduleDef struct {
	id      string
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	state   *runState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// runCtx is the parent of every job run; cancelled on Stop.
	runCtx    context.Context
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	hmu         sync.Mutex
	history     []HistoryItem
	historySize int
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem
}
