// Package queue is the engine's boundary with the asynchronous job
// runtime. A queued dispatch is published as one durable job; the
// worker process consumes it and drives the orchestrator.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// DispatchJob is the wire payload for one queued campaign dispatch.
type DispatchJob struct {
	CampaignID    uuid.UUID   `json:"campaign_id"`
	SubscriberIDs []uuid.UUID `json:"subscriber_ids"`
	TaskRef       string      `json:"task_ref"`
}

type Publisher interface {
	PublishDispatch(job DispatchJob) error
}

// AMQPPublisher publishes dispatch jobs to a durable queue.
type AMQPPublisher struct {
	channel   *amqp.Channel
	queueName string
}

func NewAMQPPublisher(conn *amqp.Connection, queueName string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := DeclareQueue(ch, queueName); err != nil {
		ch.Close()
		return nil, err
	}

	return &AMQPPublisher{channel: ch, queueName: queueName}, nil
}

// DeclareQueue declares the durable dispatch queue. Publisher and
// consumer both call it so either side can start first.
func DeclareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return q, nil
}

func (p *AMQPPublisher) PublishDispatch(job DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.channel.Publish(
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.TaskRef,
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() error {
	return p.channel.Close()
}

// MemoryPublisher collects jobs in memory. Used by tests and by setups
// without a broker.
type MemoryPublisher struct {
	mu   sync.Mutex
	Jobs []DispatchJob
}

func (p *MemoryPublisher) PublishDispatch(job DispatchJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Jobs = append(p.Jobs, job)
	return nil
}

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = (*MemoryPublisher)(nil)
)
