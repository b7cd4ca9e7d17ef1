package mailertest

import (
	"context"
	"sync"

	"github.com/getAlby/invoicehub.go/mailer"
)

// Recorder keeps every sent message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []mailer.Message
	Err      error
}

func (r *Recorder) Send(ctx context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *Recorder) Messages() []mailer.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mailer.Message(nil), r.messages...)
}

// To returns the messages sent to address.
func (r *Recorder) To(address string) []mailer.Message {
	result := []mailer.Message{}
	for _, m := range r.Messages() {
		if m.To == address {
			result = append(result, m)
		}
	}
	return result
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

var _ mailer.Mailer = (*Recorder)(nil)
