package health

import (
	"encoding/json"
	"net/http"
)

// Check is one named readiness condition.
type Check struct {
	Name  string
	Ready func() bool
}

// ReadinessReporter exposes consumer partition assignment.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// ReporterCheck adapts a ReadinessReporter into a Check.
func ReporterCheck(name string, rr ReadinessReporter) Check {
	return Check{Name: name, Ready: func() bool {
		ok, _ := rr.Readiness()
		return ok
	}}
}

// Readiness answers 200 when every check passes, else 503 listing the
// failing checks.
func Readiness(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status  string   `json:"status"`
			Pending []string `json:"pending,omitempty"`
		}
		out := resp{Status: "ready"}
		for _, c := range checks {
			if !c.Ready() {
				out.Pending = append(out.Pending, c.Name)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(out.Pending) > 0 {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
