package transcribe

// Input is either recorded audio or text that was already transcribed.
// The unexported method keeps the set of variants closed.
type Input interface {
	isInput()
}

// Audio carries raw uploaded bytes and the content type they were declared with.
type Audio struct {
	Data        []byte
	ContentType string
}

// Text bypasses recognition entirely.
type Text struct {
	Value string
}

func (Audio) isInput() {}
func (Text) isInput()  {}
