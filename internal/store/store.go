package store

import "codescribe/internal/facts"

// DefaultDBPath is the default relative path for the SQLite DB
// (per project workspace). Open() creates the parent dir.
const DefaultDBPath = ".codescribe/codescribe.db"

// Project is one analysed source tree.
type Project struct {
	ID        string
	Name      string
	Root      string
	Ref       string
	CreatedAt string
}

// ManifestEntry is one tracked file at the last successfully processed
// snapshot. The content hash is the diff baseline.
type ManifestEntry struct {
	Path        string
	ContentHash string
	Role        string
}

// SectionKey identifies one derived document.
type SectionKey string

const (
	SectionOverview       SectionKey = "overview"
	SectionArchitecture   SectionKey = "architecture"
	SectionFactsReference SectionKey = "factsReference"
	SectionSchemaDoc      SectionKey = "schemaDoc"
	SectionReport         SectionKey = "report"
)

// AllSectionKeys lists every derived section in display order.
var AllSectionKeys = []SectionKey{
	SectionOverview, SectionArchitecture, SectionFactsReference, SectionSchemaDoc, SectionReport,
}

// DerivedSection is one generated document. CommitMarker identifies the
// cycle that last regenerated it.
type DerivedSection struct {
	Key          SectionKey
	Content      string
	CommitMarker string
	UpdatedAt    string
}

// UserOverride shadows a derived section with user-edited content.
// Stale means the underlying aggregate changed since the edit; the
// override stays visible, the conflict is surfaced, never auto-merged.
type UserOverride struct {
	Key      SectionKey
	Content  string
	EditedAt string
	Stale    bool
}

// Event is one persisted pipeline event. Seq is assigned by the store,
// monotonically per project.
type Event struct {
	Seq     int64
	Stage   string
	Status  string
	Message string
	Detail  string
	At      string
}

// Cycle is everything one successful pipeline or sync cycle persists
// atomically. A failed cycle commits nothing: stored state stays as it was.
type Cycle struct {
	Manifest       []ManifestEntry  // full replacement
	Aggregate      *facts.Aggregate // full replacement
	Sections       []DerivedSection // only the sections regenerated this cycle
	StaleOverrides []SectionKey     // overrides shadowing regenerated sections
	CommitMarker   string
}

// Store is the persistence facade: projects, manifests, aggregates,
// sections, overrides, and a bounded event log. Implementations are
// SQLite or in-memory.
type Store interface {
	CreateProject(p *Project) error
	GetProject(id string) (*Project, error)
	GetProjectByName(name string) (*Project, error)
	ListProjects() ([]*Project, error)

	GetManifest(projectID string) ([]ManifestEntry, error)
	GetAggregate(projectID string) (*facts.Aggregate, error)
	GetSections(projectID string) ([]DerivedSection, error)
	GetSection(projectID string, key SectionKey) (*DerivedSection, error)
	GetOverrides(projectID string) ([]UserOverride, error)
	PutOverride(projectID string, o *UserOverride) error

	// CommitCycle applies one completed cycle as a single write.
	CommitCycle(projectID string, c *Cycle) error

	AppendEvent(projectID string, e Event) error
	// ListEvents returns events with Seq > sinceSeq, oldest first,
	// at most limit (0 = no limit).
	ListEvents(projectID string, sinceSeq int64, limit int) ([]Event, error)

	Close() error
}

// maxEventsPerProject bounds the persisted event log. Older rows are
// dropped as new ones append.
const maxEventsPerProject = 500
