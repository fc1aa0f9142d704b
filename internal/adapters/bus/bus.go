// Package bus — тонкая обёртка над RabbitMQ (amqp091): декларация durable
// fanout-обменников и очередей пайплайна, публикация с persistent delivery и
// консьюмеры с ручным подтверждением.
package bus

import (
	"context"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Имена обменников и очередей пайплайна. Обменники durable fanout; очереди
// durable с ручным ack.
const (
	QueueRealtime     = "realtime_raw"
	QueueHistorical   = "historical_raw"
	QueueBackfillJobs = "backfill_jobs"
)

// Conn — соединение с брокером. Каналы открываются по одному на
// publisher/consumer: канал amqp не потокобезопасен.
type Conn struct {
	conn *amqp.Connection
}

// Dial подключается к брокеру по CELERY_BROKER_URL.
func Dial(url string) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "amqp dial")
	}
	return &Conn{conn: conn}, nil
}

// Close закрывает соединение вместе со всеми каналами.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// NotifyClose возвращает канал, закрываемый при потере соединения.
func (c *Conn) NotifyClose() chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Publisher публикует сообщения в один обменник или одну очередь.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
	key      string
}

// FanoutPublisher открывает канал и декларирует durable fanout-обменник.
func (c *Conn) FanoutPublisher(exchange string) (*Publisher, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// QueuePublisher открывает канал и декларирует durable очередь; публикация
// идёт через default exchange с routing key, равным имени очереди.
func (c *Conn) QueuePublisher(queue string) (*Publisher, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	return &Publisher{ch: ch, key: queue}, nil
}

// Publish отправляет JSON-сообщение с persistent delivery mode.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	return p.ch.PublishWithContext(ctx, p.exchange, p.key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Close закрывает канал publisher'а.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// Consume декларирует durable очередь (и, если задан exchange, биндит её к
// нему), выставляет prefetch и возвращает поток доставок с ручным ack.
func (c *Conn) Consume(queue, exchange string, prefetch int) (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "set qos")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, errors.Wrapf(err, "declare exchange %s", exchange)
		}
		if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, errors.Wrapf(err, "bind %s to %s", queue, exchange)
		}
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "consume %s", queue)
	}
	return deliveries, nil
}
