package storage

// Status is a document's position in the ingestion lifecycle.
// Normal progression is UPLOADED -> PROCESSING -> READY and never moves
// backward. FAILED is a side state written when a processing attempt dies;
// queue redelivery may move a FAILED document forward again.
type Status string

const (
	StatusUploaded   Status = "UPLOADED"
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusFailed     Status = "FAILED"
)

// rank orders statuses for the monotonicity guard. FAILED sits below READY
// so a redelivered job can recover a failed document, but nothing ever
// overwrites READY.
func (s Status) rank() int {
	switch s {
	case StatusUploaded:
		return 0
	case StatusProcessing:
		return 1
	case StatusFailed:
		return 2
	case StatusReady:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is allowed.
// READY is terminal; every other state may move forward, and PROCESSING may
// be re-entered from FAILED (redelivery) or from itself (duplicate delivery).
func (s Status) CanTransition(next Status) bool {
	if s == StatusReady {
		return next == StatusReady
	}
	if next == StatusProcessing {
		// Redelivered jobs re-enter PROCESSING from any non-terminal state.
		return true
	}
	return next.rank() >= s.rank()
}

// ConversationRef is the entry a Document keeps for each conversation opened
// on it. Ordered newest-first when returned to callers.
type ConversationRef struct {
	ConversationID string `dynamodbav:"conversationid" json:"conversationid"`
	Created        string `dynamodbav:"created" json:"created"`
}

// Document is the durable record of one uploaded file.
type Document struct {
	OwnerID       string            `dynamodbav:"userid" json:"userid"`
	DocumentID    string            `dynamodbav:"documentid" json:"documentid"`
	Filename      string            `dynamodbav:"filename" json:"filename"`
	ObjectKey     string            `dynamodbav:"objectkey" json:"objectkey"`
	Created       string            `dynamodbav:"created" json:"created"`
	Pages         int               `dynamodbav:"pages" json:"pages"`
	FileSize      int64             `dynamodbav:"filesize" json:"filesize"`
	Status        Status            `dynamodbav:"docstatus" json:"docstatus"`
	Conversations []ConversationRef `dynamodbav:"conversations" json:"conversations"`
}

// Message is one turn in a conversation history.
type Message struct {
	Role    string `dynamodbav:"role" json:"role"`
	Content string `dynamodbav:"content" json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TimestampLayout matches the creation timestamps stored on documents and
// conversation refs. Lexicographic order equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"
