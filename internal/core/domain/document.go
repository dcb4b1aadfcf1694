package domain

import "time"

type DocumentStatus string

const (
	StatusPending DocumentStatus = "pending"
	StatusRouted  DocumentStatus = "routed"
	StatusFailed  DocumentStatus = "failed"
)

// Stage is the last routing state a document reached.
type Stage string

const (
	StageReceived  Stage = "received"
	StageExtracted Stage = "extracted"
	StageMatched   Stage = "matched"
	StageFielded   Stage = "fielded"
	StageRendered  Stage = "rendered"
	StageMoved     Stage = "moved"
	StageFailed    Stage = "failed"
)

type DocumentSource string

const (
	SourceIngest DocumentSource = "ingest"
	SourceUpload DocumentSource = "upload"
)

type ExtractionMethod string

const (
	MethodEmbedded ExtractionMethod = "embedded"
	MethodOCR      ExtractionMethod = "ocr"
)

type Document struct {
	ID                  string            `json:"id"`
	Source              DocumentSource    `json:"source"`
	SourcePath          string            `json:"source_path"`
	OriginalFilename    string            `json:"original_filename"`
	ExtractedText       string            `json:"extracted_text,omitempty"`
	ExtractionMethod    ExtractionMethod  `json:"extraction_method,omitempty"`
	Pages               int               `json:"pages,omitempty"`
	MatchedTemplateID   string            `json:"matched_template_id,omitempty"`
	MatchedTemplateName string            `json:"matched_template_name,omitempty"`
	Fields              map[string]string `json:"fields,omitempty"`
	DestinationPath     string            `json:"destination_path,omitempty"`
	Status              DocumentStatus    `json:"status"`
	Stage               Stage             `json:"stage"`
	FailureKind         FailureKind       `json:"failure_kind,omitempty"`
	FailureReason       string            `json:"failure_reason,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Terminal reports whether the document reached routed or failed.
func (d *Document) Terminal() bool {
	return d.Status == StatusRouted || d.Status == StatusFailed
}

// Advance moves a pending document to the next stage.
func (d *Document) Advance(stage Stage) {
	if d.Terminal() {
		return
	}
	d.Stage = stage
	d.UpdatedAt = time.Now().UTC()
}

// MarkRouted records a successful placement under the library root.
func (d *Document) MarkRouted(destination string) {
	d.DestinationPath = destination
	d.Stage = StageMoved
	d.Status = StatusRouted
	d.UpdatedAt = time.Now().UTC()
}

// MarkFailed records a failed decision. destination is where the original
// file now lives, empty when it could not be moved out of ingest.
func (d *Document) MarkFailed(kind FailureKind, reason, destination string) {
	d.DestinationPath = destination
	d.Stage = StageFailed
	d.Status = StatusFailed
	d.FailureKind = kind
	d.FailureReason = reason
	d.UpdatedAt = time.Now().UTC()
}
