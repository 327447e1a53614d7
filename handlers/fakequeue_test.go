package handlers

import "github.com/urban-engineer/sved/queue"

type fakePublisher struct {
	published []queue.Envelope
	err       error
}

func (p *fakePublisher) Publish(e queue.Envelope) error {
	p.published = append(p.published, e)
	return p.err
}
