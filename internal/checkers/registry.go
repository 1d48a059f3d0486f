package checkers

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Method string

const (
	TCP     Method = "tcp"
	Program Method = "program"
	Loop    Method = "loop"
)

// Settings is everything a factory may need. Only the block matching the
// method is read.
type Settings struct {
	Logger         *zap.SugaredLogger
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	Trace          bool
	// Hostname is announced in EHLO and used in Message-IDs.
	Hostname    string
	MarkUnknown bool

	TCP     *TCPSettings
	Program *ProgramSettings
	Loop    *LoopSettings

	LoopMetrics LoopMetrics
}

type CheckerFactory func(s Settings) (Checker, error)

type Registry struct {
	mu       sync.RWMutex
	checkers map[Method]CheckerFactory
}

var defaultRegistry = &Registry{
	checkers: make(map[Method]CheckerFactory),
}

func RegisterChecker(method Method, factory CheckerFactory) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.checkers[method] = factory
}

func NewChecker(method Method, s Settings) (Checker, error) {
	defaultRegistry.mu.RLock()
	factory, exists := defaultRegistry.checkers[method]
	defaultRegistry.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no checker registered for method: %s", method)
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop().Sugar()
	}
	return factory(s)
}

func ListMethods() []Method {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()

	methods := make([]Method, 0, len(defaultRegistry.checkers))
	for m := range defaultRegistry.checkers {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

func (m Method) IsValid() bool {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	_, exists := defaultRegistry.checkers[m]
	return exists
}

func (m Method) String() string {
	return string(m)
}
