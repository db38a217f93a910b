package interfaces

import "github.com/slamd-project/slamd/internal/models"

// JobClass is the pluggable payload a Job carries: the thing that
// actually runs on a Load client. The scheduling core never interprets
// a JobClass's parameters; it only needs enough of a contract to
// validate a Job template before accepting it.
type JobClass interface {
	Name() string

	// Validate checks the job-class-specific fields of params (the
	// parsed JobClassName-specific payload) and returns a models.Error
	// with ErrorKindInvalidJobConfig on failure.
	Validate(params map[string]string) error
}

// JobClassRegistry resolves a JobClassName to its JobClass, the same
// way OptimizationAlgorithmRegistry resolves algorithm names.
type JobClassRegistry interface {
	Lookup(name string) (JobClass, bool)
	Register(class JobClass)
	Names() []string
}

// ParameterKind tags a ParameterStub's value type.
type ParameterKind string

const (
	ParameterKindString  ParameterKind = "String"
	ParameterKindInteger ParameterKind = "Integer"
	ParameterKindFloat   ParameterKind = "Float"
	ParameterKindBoolean ParameterKind = "Boolean"
)

// ParameterStub describes one algorithm-specific parameter an
// OptimizationAlgorithm accepts. The admin layer renders these into a
// form; the core only carries them through.
type ParameterStub struct {
	Name        string
	Kind        ParameterKind
	Required    bool
	Description string
}

// OptimizationAlgorithm scores an OptimizingJob's completed iterations
// and decides which of two scores is the better one. A reference
// implementation lives in internal/optimizer.
type OptimizationAlgorithm interface {
	Name() string

	// AvailableWithJobClass reports whether the algorithm can score
	// iterations of the named job class.
	AvailableWithJobClass(jobClassName string) bool

	// ParameterStubs describes the algorithm-specific parameters an
	// OptimizingJob template may carry in AlgorithmParameters.
	ParameterStubs() []ParameterStub

	// Initialize validates parameters ahead of an OptimizingJob's
	// first iteration. A value the algorithm cannot accept fails with
	// ErrorKindInvalidValue and the OptimizingJob is never scheduled.
	Initialize(job *models.OptimizingJob, parameters map[string]string) error

	// Score extracts the scalar objective value from a completed
	// iteration's opaque Stats payload. A non-nil error means the
	// iteration's stats could not be scored and it is treated as
	// non-improving.
	Score(job *models.Job) (float64, error)

	// IsImprovement reports whether candidate beats the current best,
	// per the algorithm's own notion of "better" (higher is not always
	// better — e.g. a latency-minimizing algorithm inverts the compare).
	IsImprovement(candidate, currentBest float64) bool
}

// OptimizationAlgorithmRegistry resolves an OptimizationAlgorithmName.
type OptimizationAlgorithmRegistry interface {
	Lookup(name string) (OptimizationAlgorithm, bool)
	Register(algorithm OptimizationAlgorithm)
	Names() []string
}
