package main

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// gcpPublisherFactory resolves topic publishers from the shared client. A
// topic without a publisher yields nil, which dead-letters the row.
func gcpPublisherFactory(client pubSubClient) publisherFactory {
	return func(topic string) publisher {
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		return gcpPublisher{p}
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return keyedResult{res: g.p.Publish(ctx, msg), pub: g.p, key: msg.OrderingKey}
}

// keyedResult resumes the ordering key after a failure. Pub/Sub pauses a key
// on error and rejects later messages for it until resumed.
type keyedResult struct {
	res *gcppubsub.PublishResult
	pub *gcppubsub.Publisher
	key string
}

func (r keyedResult) Get(ctx context.Context) (string, error) {
	id, err := r.res.Get(ctx)
	if err != nil && r.key != "" {
		r.pub.ResumePublish(r.key)
	}
	return id, err
}
