package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scenecheck/internal/config"
)

const pollEvery = 25 * time.Millisecond

const tavernScene = `
server:
  log_level: info
validation:
  fuzzy_threshold: 0.8
  combination_strategy: confidence_based
scenes:
  path: scenes/tavern.yaml
`

// reload is one onChange invocation.
type reload struct{ old, new *config.Config }

// reloadLog collects onChange invocations.
type reloadLog struct {
	mu   sync.Mutex
	seen []reload
	next chan reload
}

func newReloadLog() *reloadLog { return &reloadLog{next: make(chan reload, 8)} }

func (l *reloadLog) record(old, new *config.Config) {
	l.mu.Lock()
	l.seen = append(l.seen, reload{old, new})
	l.mu.Unlock()
	select {
	case l.next <- reload{old, new}:
	default:
	}
}

func (l *reloadLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func (l *reloadLog) await(t *testing.T) reload {
	t.Helper()
	select {
	case r := <-l.next:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
		return reload{}
	}
}

// watchScene writes body to a temp config file and watches it.
func watchScene(t *testing.T, body string) (string, *config.Watcher, *reloadLog) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenecheck.yaml")
	rewrite(t, path, body)
	log := newReloadLog()
	w, err := config.NewWatcher(path, log.record, config.WithInterval(pollEvery))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, log
}

func rewrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// settle lets several poll cycles pass.
func settle() { time.Sleep(8 * pollEvery) }

func TestWatcher_LoadsFileOnStart(t *testing.T) {
	t.Parallel()
	_, w, log := watchScene(t, tavernScene)

	cur := w.Current()
	if cur.Scenes.Path != "scenes/tavern.yaml" {
		t.Errorf("scenes.path = %q", cur.Scenes.Path)
	}
	if cur.Validation.CombinationStrategy != "confidence_based" {
		t.Errorf("combination_strategy = %q", cur.Validation.CombinationStrategy)
	}
	if n := log.count(); n != 0 {
		t.Errorf("initial load fired %d reloads", n)
	}
}

func TestWatcher_ReloadsValidationDefaults(t *testing.T) {
	t.Parallel()
	path, w, log := watchScene(t, tavernScene)

	settle()
	rewrite(t, path, `
server:
  log_level: debug
validation:
  fuzzy_threshold: 0.65
  combination_strategy: majority
scenes:
  path: scenes/tavern.yaml
`)

	r := log.await(t)
	if r.old.Validation.FuzzyThreshold != 0.8 || r.new.Validation.FuzzyThreshold != 0.65 {
		t.Errorf("fuzzy_threshold %v -> %v, want 0.8 -> 0.65",
			r.old.Validation.FuzzyThreshold, r.new.Validation.FuzzyThreshold)
	}
	d := config.Diff(r.old, r.new)
	if !d.ValidationChanged {
		t.Error("ValidationChanged = false")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
	if got := w.Current().Validation.CombinationStrategy; got != "majority" {
		t.Errorf("Current strategy = %q, want majority", got)
	}
}

func TestWatcher_SceneMoveNeedsRestart(t *testing.T) {
	t.Parallel()
	path, _, log := watchScene(t, tavernScene)

	settle()
	rewrite(t, path, `
server:
  log_level: info
validation:
  fuzzy_threshold: 0.8
  combination_strategy: confidence_based
scenes:
  path: scenes/crypt.yaml
`)

	r := log.await(t)
	d := config.Diff(r.old, r.new)
	if d.ValidationChanged || d.LogLevelChanged {
		t.Errorf("diff = %+v, want only a restart section", d)
	}
	if !slices.Equal(d.RestartRequired, []string{"scenes"}) {
		t.Errorf("RestartRequired = %v, want [scenes]", d.RestartRequired)
	}
}

func TestWatcher_RejectedEditsKeepLastGood(t *testing.T) {
	t.Parallel()

	edits := map[string]string{
		"unknown strategy":    "validation:\n  combination_strategy: coin_flip\n",
		"threshold above one": "validation:\n  fuzzy_threshold: 1.5\n",
		"bad log level":       "server:\n  log_level: chatty\n",
		"unknown key":         "validation:\n  fuzzyness: 0.5\n",
		"broken yaml":         "validation: [\n",
	}
	for name, body := range edits {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path, w, log := watchScene(t, tavernScene)

			settle()
			rewrite(t, path, body)
			settle()

			if n := log.count(); n != 0 {
				t.Errorf("rejected edit fired %d reloads", n)
			}
			if got := w.Current().Validation.FuzzyThreshold; got != 0.8 {
				t.Errorf("fuzzy_threshold = %v, want last good 0.8", got)
			}
		})
	}
}

func TestWatcher_TouchIsNotAReload(t *testing.T) {
	t.Parallel()
	path, _, log := watchScene(t, tavernScene)

	settle()
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	settle()

	if n := log.count(); n != 0 {
		t.Errorf("mtime-only change fired %d reloads", n)
	}
}

func TestNewWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := config.NewWatcher(missing, nil); err == nil {
		t.Fatal("NewWatcher on a missing file succeeded")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	_, w, _ := watchScene(t, tavernScene)
	w.Stop()
	w.Stop()
}
