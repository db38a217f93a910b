package interfaces

import "github.com/slamd-project/slamd/internal/models"

// JobDispatcher sends Job start/stop commands to the clients a Job has
// been assigned to, and reports the statistics they produce. Completion
// itself always arrives asynchronously through the events it reports —
// internal/scheduler never blocks a tick waiting on a client.
// Implemented by internal/transport/ws.
type JobDispatcher interface {
	// DispatchStart sends job's parameters to clientIDs. Returns
	// ErrorKindDispatchFailed if any client could not be reached.
	DispatchStart(job *models.Job, clientIDs []string) error

	// DispatchStop asks clientIDs to stop executing jobID.
	DispatchStop(jobID string, clientIDs []string) error
}

// ClientReport is one client's terminal or interim report for a Job,
// delivered to the Scheduler through its inbox (see
// internal/scheduler.Scheduler.Report).
type ClientReport struct {
	JobID    string
	ClientID string
	Kind     ClientReportKind
	Stats    []byte // opaque, only meaningful to the JobClass
	Err      error  // set when Kind is ClientReportError
}

// ClientReportKind is the closed set of report kinds a client can send
// about a Job it is executing.
type ClientReportKind string

const (
	ClientReportCompleted    ClientReportKind = "Completed"
	ClientReportError        ClientReportKind = "Error"
	ClientReportDisconnected ClientReportKind = "Disconnected"
)

// ReportSink accepts asynchronous ClientReports off the transport layer
// and delivers them into the Scheduler's own inbox channel. Implemented
// by internal/scheduler.Scheduler; kept separate from the Scheduler
// interface because only internal/transport/ws (which delivers client
// reports) and internal/access (whose DisconnectClient reports a lost
// client) need it.
type ReportSink interface {
	Report(report ClientReport)
}
