package types

type QueryResponse struct {
	Answer string `json:"answer"`
}

type CreateAssistantResponse struct {
	AssistantID string `json:"assistant_id"`
}

type CreateThreadResponse struct {
	ThreadID string `json:"thread_id"`
}

type AddMessageResponse struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type ProcessMessageResponse struct {
	AssistantMessage string `json:"assistant_message"`
}
