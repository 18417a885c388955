package flow

// ActionType tells the presentation adapter how to surface a display change.
type ActionType int

const (
	// ReplaceMessage updates the message the event originated from.
	ReplaceMessage ActionType = iota
	// SendNewMessage always produces a fresh message. Photo results must use
	// this since a text message cannot be edited into a photo.
	SendNewMessage
	// DeleteMessage removes the originating message.
	DeleteMessage
)

// Btn is one inline button in a display instruction.
type Btn struct {
	Label   string
	Key     string
	Payload string
}

// Action is a single outbound display instruction.
type Action struct {
	Type    ActionType
	Text    string
	Buttons [][]Btn

	// PhotoPath points at a local image to send; the adapter removes the
	// file after a successful send when Transient is set.
	PhotoPath string
	Transient bool
}

func replace(text string, rows ...[]Btn) Action {
	return Action{Type: ReplaceMessage, Text: text, Buttons: rows}
}

func send(text string, rows ...[]Btn) Action {
	return Action{Type: SendNewMessage, Text: text, Buttons: rows}
}

func sendPhoto(path, caption string) Action {
	return Action{Type: SendNewMessage, Text: caption, PhotoPath: path, Transient: true}
}

func btn(label, key, payload string) Btn {
	return Btn{Label: label, Key: key, Payload: payload}
}
