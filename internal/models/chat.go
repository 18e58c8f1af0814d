package models

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of the client-supplied conversation history
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Citation points the user at a source document
type Citation struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Response is what every query returns, including refusals and fallbacks
type Response struct {
	Answer  string     `json:"answer"`
	Sources []Citation `json:"sources"`
}

// NewResponse returns a response with a non-nil source list
func NewResponse(answer string, sources []Citation) *Response {
	if sources == nil {
		sources = []Citation{}
	}
	return &Response{Answer: answer, Sources: sources}
}
