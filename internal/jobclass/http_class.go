package jobclass

import (
	"net/url"

	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
)

// HTTPLoadClass is a reference JobClass: Load clients running it send
// repeated HTTP requests to a configured URL. Real job classes ship as
// client-side plugins; this one exists so ScheduleJob and
// ScheduleOptimizingJob have a concrete class to validate against in
// tests and local runs.
type HTTPLoadClass struct{}

func (HTTPLoadClass) Name() string { return "http-load" }

// Validate checks the two parameters HTTPLoadClass cares about: a
// syntactically valid target url and an http method from the usual
// set. Everything else in params is opaque and passed through to the
// client unchanged.
func (HTTPLoadClass) Validate(params map[string]string) error {
	target, ok := params["url"]
	if !ok || target == "" {
		return models.NewError(models.ErrorKindInvalidJobConfig, "http-load: url parameter is required")
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return models.WrapError(models.ErrorKindInvalidJobConfig, "http-load: url parameter is invalid", err)
	}

	if method, ok := params["method"]; ok {
		switch method {
		case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
		default:
			return models.NewError(models.ErrorKindInvalidJobConfig, "http-load: method must be a standard HTTP verb")
		}
	}

	return nil
}

var _ interfaces.JobClass = HTTPLoadClass{}
