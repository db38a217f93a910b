package optimizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/slamd-project/slamd/internal/interfaces"
	"github.com/slamd-project/slamd/internal/models"
)

// ThroughputAlgorithm is a reference OptimizationAlgorithm: it treats a
// Job's opaque Stats payload as a plain ASCII decimal number of
// requests/sec and prefers whichever iteration reports the higher
// value. Real JobClass-specific scoring ships with the job classes a
// deployment loads; this implementation exists so the controller's
// search loop has something concrete to drive and test against.
type ThroughputAlgorithm struct{}

func (ThroughputAlgorithm) Name() string { return "throughput" }

// AvailableWithJobClass is unconditionally true: any class whose stats
// payload is a plain number can be scored for throughput.
func (ThroughputAlgorithm) AvailableWithJobClass(string) bool { return true }

func (ThroughputAlgorithm) ParameterStubs() []interfaces.ParameterStub { return nil }

// Initialize rejects any parameter at all — the algorithm takes none,
// and a silently-ignored setting would be worse than an error.
func (ThroughputAlgorithm) Initialize(_ *models.OptimizingJob, parameters map[string]string) error {
	for name := range parameters {
		return models.NewError(models.ErrorKindInvalidValue,
			fmt.Sprintf("throughput: unknown parameter %q", name))
	}
	return nil
}

func (ThroughputAlgorithm) Score(job *models.Job) (float64, error) {
	if !job.HasStats || len(job.Stats) == 0 {
		return 0, models.NewError(models.ErrorKindStatisticsUnreadable, job.ID)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(string(job.Stats)), 64)
	if err != nil {
		return 0, models.WrapError(models.ErrorKindStatisticsUnreadable, job.ID, err)
	}
	return value, nil
}

func (ThroughputAlgorithm) IsImprovement(candidate, currentBest float64) bool {
	return candidate > currentBest
}

var _ interfaces.OptimizationAlgorithm = ThroughputAlgorithm{}
