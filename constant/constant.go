package constant

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExporting SessionStatus = "exporting"
	SessionStatusExported  SessionStatus = "exported"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusArchived  SessionStatus = "archived"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusExporting,
		SessionStatusExported, SessionStatusFailed, SessionStatusArchived:
		return true
	}
	return false
}

// Transitions maps a status to the statuses it may move to.
type Transitions map[SessionStatus][]SessionStatus

func (t Transitions) Allows(from, to SessionStatus) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UserTransitions is the table applied to status writes coming from callers.
var UserTransitions = Transitions{
	SessionStatusActive:    {SessionStatusCompleted, SessionStatusArchived},
	SessionStatusCompleted: {SessionStatusArchived, SessionStatusActive},
	SessionStatusExporting: {SessionStatusExported, SessionStatusFailed},
	SessionStatusExported:  {SessionStatusArchived},
	SessionStatusFailed:    {SessionStatusActive},
	SessionStatusArchived:  {},
}

// ExportTransitions is the table the export orchestrator moves sessions through.
// exporting -> active is the rollback edge.
var ExportTransitions = Transitions{
	SessionStatusActive:    {SessionStatusExporting},
	SessionStatusCompleted: {SessionStatusExporting},
	SessionStatusExported:  {SessionStatusExporting},
	SessionStatusFailed:    {SessionStatusExporting},
	SessionStatusExporting: {SessionStatusExported, SessionStatusActive},
}

type ExportType string

const (
	ExportTypeSolo       ExportType = "solo"
	ExportTypeComparison ExportType = "comparison"
)

type ExportFormat string

const (
	ExportFormatMP4  ExportFormat = "mp4"
	ExportFormatWebM ExportFormat = "webm"
)

type ExportQuality string

const (
	ExportQuality480p  ExportQuality = "480p"
	ExportQuality720p  ExportQuality = "720p"
	ExportQuality1080p ExportQuality = "1080p"
)

var SupportedFPS = []int{24, 30, 60}

const (
	DefaultFPS       = 30
	DefaultPage      = 1
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Metadata recorded for browser-captured takes.
const (
	RecordingFormat     = "webm"
	RecordingAudioCodec = "opus"
	RecordingVideoCodec = "vp9"

	// MaxRecordingDurationSeconds caps a single take at one day.
	MaxRecordingDurationSeconds = 24 * 60 * 60
)

type ExportJobStatus string

const (
	ExportJobStatusPending    ExportJobStatus = "pending"
	ExportJobStatusProcessing ExportJobStatus = "processing"
	ExportJobStatusCompleted  ExportJobStatus = "completed"
	ExportJobStatusFailed     ExportJobStatus = "failed"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
