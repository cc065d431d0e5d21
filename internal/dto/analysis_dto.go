package dto

// AnalyzeDocumentJob is the payload queued by the command handler and
// consumed by the analysis service.
type AnalyzeDocumentJob struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	Source     string `json:"source,omitempty"`
	RequestID  string `json:"request_id"`
}
