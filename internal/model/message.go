package model

import "time"

type (
	// Message is a relayed chat line. Text carries an encrypted envelope.
	Message struct {
		User string    `json:"user"`
		Text string    `json:"text"`
		Date time.Time `json:"date"`
	}

	Messages struct {
		Messages []Message `json:"messages"`
	}

	JoinRequest struct {
		Room string `json:"room"`
		User string `json:"user"`
	}

	LeaveRequest struct {
		Room string `json:"room"`
	}

	MessageRequest struct {
		Text string `json:"text"`
	}

	TypingSignal struct {
		User string `json:"user"`
	}
)
