package hooks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 100 * time.Millisecond

var errNotBoolean = errors.New("condition did not return boolean")

// HookManager loads hooks from a directory and runs them on matching events.
type HookManager struct {
	hooksDir       string
	byEvent        map[HookEvent][]*Hook
	programs       map[string]*vm.Program
	actionHandlers map[HookAction]ActionHandler
	eventBus       *EventBus
	subscriptions  []*Subscription
	mu             sync.RWMutex

	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
	stopOnce    sync.Once
}

// NewHookManager creates a hook manager with the built-in actions registered.
// An empty hooksDir defaults to ~/.trustlayer/hooks.
func NewHookManager(hooksDir string, eventBus *EventBus) (*HookManager, error) {
	if eventBus == nil {
		return nil, fmt.Errorf("hook manager requires an event bus")
	}
	if hooksDir == "" {
		dir, err := defaultHooksDir()
		if err != nil {
			return nil, err
		}
		hooksDir = dir
	}

	m := &HookManager{
		hooksDir:       hooksDir,
		byEvent:        make(map[HookEvent][]*Hook),
		programs:       make(map[string]*vm.Program),
		actionHandlers: make(map[HookAction]ActionHandler),
		eventBus:       eventBus,
		stopWatcher:    make(chan struct{}),
	}
	RegisterBuiltInActions(m)
	return m, nil
}

func defaultHooksDir() (string, error) {
	base, err := os.UserHomeDir()
	if err != nil {
		if base, err = os.Getwd(); err != nil {
			return "", fmt.Errorf("failed to resolve hooks directory: %w", err)
		}
	}
	return filepath.Join(base, ".trustlayer", "hooks"), nil
}

func isHookFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// loadHookFile parses one hook definition and compiles its condition.
// The returned program is nil for unconditional hooks.
func loadHookFile(path string) (*Hook, *vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read hook file: %w", err)
	}
	hook := &Hook{}
	if err := yaml.Unmarshal(data, hook); err != nil {
		return nil, nil, fmt.Errorf("failed to parse hook file: %w", err)
	}
	if hook.ID == "" {
		hook.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	hook.FilePath = path

	if unconditional(hook.Condition) {
		return hook, nil, nil
	}
	program, err := expr.Compile(hook.Condition)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid condition %q: %w", hook.Condition, err)
	}
	return hook, program, nil
}

func unconditional(condition string) bool {
	c := strings.TrimSpace(condition)
	return c == "" || c == "true"
}

// LoadHooks replaces the loaded hooks with the enabled ones found in the
// hooks directory. Unreadable or invalid files are logged and skipped.
func (m *HookManager) LoadHooks() error {
	if err := os.MkdirAll(m.hooksDir, 0o755); err != nil {
		return fmt.Errorf("failed to create hooks directory: %w", err)
	}
	entries, err := os.ReadDir(m.hooksDir)
	if err != nil {
		return fmt.Errorf("failed to read hooks directory: %w", err)
	}

	byEvent := make(map[HookEvent][]*Hook)
	programs := make(map[string]*vm.Program)
	enabled := 0
	for _, entry := range entries {
		if entry.IsDir() || !isHookFile(entry.Name()) {
			continue
		}
		path := filepath.Join(m.hooksDir, entry.Name())
		hook, program, err := loadHookFile(path)
		if err != nil {
			log.WithField("file", path).Errorf("skipping hook: %v", err)
			continue
		}
		if !hook.Enabled {
			continue
		}
		if program != nil {
			programs[hook.Condition] = program
		}
		byEvent[hook.Event] = append(byEvent[hook.Event], hook)
		enabled++
		log.Debugf("hook %s registered on %s", hook.ID, hook.Event)
	}

	m.mu.Lock()
	m.byEvent = byEvent
	m.programs = programs
	m.mu.Unlock()

	log.Infof("hooks: %d enabled from %s", enabled, m.hooksDir)
	return nil
}

// SubscribeToAllEvents attaches the manager to every known event. Calling it
// more than once has no additional effect.
func (m *HookManager) SubscribeToAllEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subscriptions) > 0 {
		return
	}
	for _, evt := range AllEvents() {
		m.subscriptions = append(m.subscriptions, m.eventBus.Subscribe(evt, m.handleEvent))
	}
}

func (m *HookManager) handleEvent(ctx *EventContext) {
	m.mu.RLock()
	candidates := m.byEvent[ctx.Event]
	m.mu.RUnlock()

	for _, hook := range candidates {
		ok, err := m.evaluateCondition(hook.Condition, ctx)
		if err != nil {
			log.WithField("hook", hook.ID).Warnf("condition %q failed: %v", hook.Condition, err)
			continue
		}
		if !ok {
			continue
		}
		log.WithField("hook", hook.ID).Infof("%s fired %s", ctx.Event, hook.Action)
		go m.executeAction(hook, ctx)
	}
}

// program returns the compiled condition, compiling and caching it when the
// hook was not loaded from disk.
func (m *HookManager) program(condition string) (*vm.Program, error) {
	m.mu.RLock()
	p, ok := m.programs[condition]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(condition)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.programs[condition] = p
	m.mu.Unlock()
	return p, nil
}

// conditionEnv is the variable set visible to hook conditions.
func conditionEnv(ctx *EventContext) map[string]any {
	errText := ctx.ErrorMessage
	if ctx.Error != nil {
		errText = ctx.Error.Error()
	}
	return map[string]any{
		"Event":     string(ctx.Event),
		"Timestamp": ctx.Timestamp,
		"RoundID":   ctx.RoundID,
		"Responder": ctx.Responder,
		"Data":      ctx.Data,
		"Error":     errText,
	}
}

func (m *HookManager) evaluateCondition(condition string, ctx *EventContext) (bool, error) {
	if unconditional(condition) {
		return true, nil
	}
	p, err := m.program(condition)
	if err != nil {
		return false, err
	}
	result, err := expr.Run(p, conditionEnv(ctx))
	if err != nil {
		return false, err
	}
	matched, ok := result.(bool)
	if !ok {
		return false, errNotBoolean
	}
	return matched, nil
}

func (m *HookManager) executeAction(hook *Hook, ctx *EventContext) {
	m.mu.RLock()
	handler, ok := m.actionHandlers[hook.Action]
	m.mu.RUnlock()

	entry := log.WithFields(log.Fields{"hook": hook.ID, "action": hook.Action})
	if !ok {
		entry.Warn("no handler for hook action")
		return
	}
	if err := handler(hook, ctx); err != nil {
		entry.Errorf("hook action failed: %v", err)
	}
}

// RegisterAction registers a handler for a specific action type.
func (m *HookManager) RegisterAction(action HookAction, handler ActionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionHandlers[action] = handler
}

// StartWatcher reloads hooks whenever the hooks directory changes.
func (m *HookManager) StartWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create hooks watcher: %w", err)
	}
	if err := watcher.Add(m.hooksDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch hooks directory: %w", err)
	}
	m.watcher = watcher
	go m.watch(watcher)
	return nil
}

func (m *HookManager) watch(watcher *fsnotify.Watcher) {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	var reload *time.Timer
	defer func() {
		if reload != nil {
			reload.Stop()
		}
	}()

	for {
		select {
		case <-m.stopWatcher:
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("hooks watcher: %v", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 || !isHookFile(event.Name) {
				continue
			}
			if reload != nil {
				reload.Reset(reloadDebounce)
				continue
			}
			reload = time.AfterFunc(reloadDebounce, func() {
				if err := m.LoadHooks(); err != nil {
					log.Errorf("hooks reload: %v", err)
				}
			})
		}
	}
}

// StopWatcher stops the file watcher.
func (m *HookManager) StopWatcher() {
	m.stopOnce.Do(func() {
		close(m.stopWatcher)
		if m.watcher != nil {
			m.watcher.Close()
		}
	})
}

// Close stops the watcher and unsubscribes from all events.
func (m *HookManager) Close() {
	m.StopWatcher()
	m.mu.Lock()
	subs := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// HooksDir returns the hooks directory path.
func (m *HookManager) HooksDir() string {
	return m.hooksDir
}

// Hooks returns all loaded hooks ordered by ID.
func (m *HookManager) Hooks() []*Hook {
	m.mu.RLock()
	all := make([]*Hook, 0)
	for _, hs := range m.byEvent {
		all = append(all, hs...)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Hook returns a loaded hook by ID, or nil.
func (m *HookManager) Hook(id string) *Hook {
	for _, h := range m.Hooks() {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// EvaluateCondition reports whether h's condition holds for ctx.
func (m *HookManager) EvaluateCondition(h *Hook, ctx *EventContext) (bool, error) {
	return m.evaluateCondition(h.Condition, ctx)
}
