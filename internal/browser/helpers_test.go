package browser

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap/zaptest"
)

// cdpRecorder stands in for a live tab. It records every action and script
// and answers scripts from canned JSON results keyed by a substring.
type cdpRecorder struct {
	mu        sync.Mutex
	actions   []chromedp.Action
	exprs     []string
	awaited   []bool
	results   map[string]string
	evalErr   error
	runErr    error
	listeners []func(ev interface{})
}

func newTestPage(t *testing.T) (*Page, *cdpRecorder) {
	t.Helper()
	rec := &cdpRecorder{results: make(map[string]string)}
	p := newPage(context.Background(), func() {}, 0, zaptest.NewLogger(t))
	p.runActionsFunc = func(ctx context.Context, actions ...chromedp.Action) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.actions = append(rec.actions, actions...)
		return rec.runErr
	}
	p.evalFunc = func(ctx context.Context, expr string, res interface{}, awaitPromise bool) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.exprs = append(rec.exprs, expr)
		rec.awaited = append(rec.awaited, awaitPromise)
		if rec.evalErr != nil {
			return rec.evalErr
		}
		if res == nil {
			return nil
		}
		for key, result := range rec.results {
			if strings.Contains(expr, key) {
				return json.Unmarshal([]byte(result), res)
			}
		}
		return nil
	}
	p.listenFunc = func(fn func(ev interface{})) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.listeners = append(rec.listeners, fn)
	}
	return p, rec
}

func (r *cdpRecorder) respond(key, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[key] = result
}

func (r *cdpRecorder) scripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.exprs...)
}

func (r *cdpRecorder) lastScript() string {
	s := r.scripts()
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func (r *cdpRecorder) recordedActions() []chromedp.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chromedp.Action(nil), r.actions...)
}

func (r *cdpRecorder) emit(ev interface{}) {
	r.mu.Lock()
	ls := append([]func(ev interface{}){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}
