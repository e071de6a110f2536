package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"mimic-export/config"
)

type Publisher interface {
	Publish(ctx context.Context, body any) error
}

type publisher struct {
	conn *amqp.Connection
	cfg  *config.RabbitMQ
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) Publisher {
	return &publisher{conn: conn, cfg: cfg}
}

// Publish sends body as a persistent JSON message on the configured routing key.
func (p *publisher) Publish(ctx context.Context, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := DeclareTopology(ch, p.cfg); err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.cfg.ExchangeName, p.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Debug().Str("routing_key", p.cfg.RoutingKey).Msg("message published")
	return nil
}
