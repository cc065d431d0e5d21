package protocol

import "encoding/json"

// ExternalPromptPayload is the structured payload of external_prompt
// messages: the research framing handed to the external assistant alongside
// the session's context window.
type ExternalPromptPayload struct {
	TopicFocus          string         `json:"topic_focus"`
	LiteratureContext   map[string]any `json:"literature_context,omitempty"`
	MaterialsOfInterest []string       `json:"materials_of_interest,omitempty"`
	ExperimentContext   map[string]any `json:"experiment_context,omitempty"`
	Constraints         []string       `json:"constraints,omitempty"`
	Objectives          []string       `json:"objectives,omitempty"`
}

// DecodePayload re-marshals the open payload map into a typed struct.
// Handlers use this at their boundary; the envelope itself stays schemaless.
func DecodePayload(payload map[string]any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
