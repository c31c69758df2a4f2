package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const readyCheckTimeout = 2 * time.Second

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// NewBaseMuxWithReady returns a mux with /healthz and /readyz registered. /readyz runs
// every check in parallel and reports each one by name; nil checks are skipped.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		results, ok := runChecks(r.Context(), checks)
		status, code := "ready", http.StatusOK
		if !ok {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": results})
	})
	return mux
}

func runChecks(ctx context.Context, checks []ReadyCheck) (map[string]string, bool) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = map[string]string{}
		ok      = true
	)
	for _, c := range checks {
		if c.Check == nil {
			continue
		}
		name := c.Name
		if name == "" {
			name = "dependency"
		}
		wg.Add(1)
		go func(check func(context.Context) error) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
			defer cancel()
			err := check(checkCtx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ok = false
				results[name] = err.Error()
				return
			}
			results[name] = "ok"
		}(c.Check)
	}
	wg.Wait()
	return results, ok
}
