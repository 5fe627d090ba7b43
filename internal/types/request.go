package types

import "encoding/json"

const (
	DefaultTemperature    = 0.7
	DefaultTopP           = 1.0
	DefaultMessageContent = "hi!"
)

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Question    string    `json:"question"`
	ChatHistory []Message `json:"chat_history"`
}

// CreateAssistantRequest is the body of POST /create_assistant. Optional
// fields are pointers so an explicit zero can be told apart from absence.
type CreateAssistantRequest struct {
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	Temperature  *float64 `json:"temperature,omitempty"`
	TopP         *float64 `json:"top_p,omitempty"`
	Tools        []Tool   `json:"tools,omitempty"`
}

// Spec applies the defaults and returns the upstream assistant configuration.
func (r CreateAssistantRequest) Spec(model string) AssistantSpec {
	spec := AssistantSpec{
		Name:         r.Name,
		Instructions: r.Instructions,
		Model:        model,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
		Tools:        r.Tools,
	}
	if r.Temperature != nil {
		spec.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		spec.TopP = *r.TopP
	}
	if spec.Tools == nil {
		spec.Tools = []Tool{}
	}
	return spec
}

// Tool is an assistant tool declaration, e.g. {"type":"code_interpreter"} or
// {"type":"function","function":{...}}.
type Tool struct {
	Type     string              `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// AddMessageRequest is the body of POST /add_message.
type AddMessageRequest struct {
	ThreadID string  `json:"thread_id"`
	Message  *string `json:"message,omitempty"`
}

// Content returns the message text, defaulting to "hi!" when absent.
func (r AddMessageRequest) Content() string {
	if r.Message == nil {
		return DefaultMessageContent
	}
	return *r.Message
}

// ProcessMessageRequest is the body of POST /process_message.
type ProcessMessageRequest struct {
	ThreadID string `json:"thread_id"`
}
