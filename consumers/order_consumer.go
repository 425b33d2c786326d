package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"storefront-service/config"
	"storefront-service/models"
	"storefront-service/services"
)

const handlerTimeout = 10 * time.Second

// OrderCanceller is the part of the order service the consumer needs.
type OrderCanceller interface {
	CancelIfPending(ctx context.Context, orderID int64) (bool, error)
}

type OrderConsumer struct {
	orders OrderCanceller
}

func NewOrderConsumer(orders OrderCanceller) *OrderConsumer {
	return &OrderConsumer{orders: orders}
}

// Start consumes the order queue and its dead letter queue until the
// channel closes.
func (c *OrderConsumer) Start(ch *amqp.Channel, cfg *config.Config) error {
	msgs, err := ch.Consume(
		cfg.OrderQueue,
		"storefront-service", // consumer tag
		false,                // auto-ack
		false,                // exclusive
		false,                // no-local
		false,                // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgs {
			c.processOrderMessage(msg)
		}
	}()

	dlqMsgs, err := ch.Consume(
		cfg.DeadLetterQueue,
		"storefront-service-dlq",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Printf("Failed to register DLQ consumer: %v", err)
		return nil
	}

	go func() {
		for msg := range dlqMsgs {
			processDeadLetterMessage(msg)
		}
	}()
	return nil
}

func (c *OrderConsumer) processOrderMessage(msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in message processing: %v", r)
			nack(msg, false)
		}
	}()

	var event models.OrderEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil || event.OrderID <= 0 {
		log.Printf("Invalid message format: %s", msg.Body)
		nack(msg, false)
		return
	}

	log.Printf("Processing order event: ID=%d, Type=%s", event.OrderID, event.Type)

	if err := c.handle(event); err != nil {
		// one redelivery, then the queue dead-letters it
		log.Printf("Failed to handle %s event for order %d: %v", event.Type, event.OrderID, err)
		nack(msg, !msg.Redelivered)
		return
	}

	if err := msg.Ack(false); err != nil {
		log.Printf("Failed to ack message: %v", err)
	}
}

func (c *OrderConsumer) handle(event models.OrderEvent) error {
	switch event.Type {
	case models.EventCreated:
		log.Printf("Order %d created by user %d, total %s", event.OrderID, event.UserID, event.Total.StringFixed(models.MoneyPlaces))
	case models.EventStatusUpdated:
		log.Printf("Order %d is now %s", event.OrderID, event.Status)
	case models.EventPaymentCheck:
		return c.handlePaymentCheck(event.OrderID)
	default:
		log.Printf("Unknown event type: %s", event.Type)
	}
	return nil
}

// handlePaymentCheck cancels orders that are still unpaid when the delayed
// check fires.
func (c *OrderConsumer) handlePaymentCheck(orderID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	cancelled, err := c.orders.CancelIfPending(ctx, orderID)
	if errors.Is(err, services.ErrOrderNotFound) {
		log.Printf("Payment check for unknown order %d", orderID)
		return nil
	}
	if err != nil {
		return err
	}
	if cancelled {
		log.Printf("Auto-cancelled order %d due to non-payment", orderID)
	}
	return nil
}

func processDeadLetterMessage(msg amqp.Delivery) {
	log.Printf("Received dead letter: %s", msg.Body)
	if err := msg.Ack(false); err != nil {
		log.Printf("Failed to ack dead letter: %v", err)
	}
}

func nack(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		log.Printf("Failed to nack message: %v", err)
	}
}
