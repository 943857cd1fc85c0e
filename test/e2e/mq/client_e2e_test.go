package mq

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	clientmq "fruitripe.dev/chamber-hub/pkg/mq"
)

var _ = Describe("MQ Client E2E", func() {
	var (
		ctx    context.Context
		client *clientmq.Client
		cfg    clientmq.Config
	)

	BeforeEach(func() {
		ctx = context.Background()

		// Unique exchange and queue per test.
		suffix := time.Now().Format("20060102-150405.000")
		cfg = clientmq.Config{
			URL:        rabbitmqURL,
			Exchange:   "telemetry-e2e-" + suffix,
			Queue:      "chamber-telemetry-e2e-" + suffix,
			BindingKey: "chambers.*.data",
		}
	})

	AfterEach(func() {
		if client != nil {
			_ = client.Close()
			client = nil
		}
	})

	Describe("Connection", func() {
		It("should connect to RabbitMQ successfully", func() {
			client = clientmq.New(cfg, testLogger)
			Expect(client).NotTo(BeNil())

			// Give client time to connect
			time.Sleep(1 * time.Second)
		})

		It("should handle an invalid URL gracefully", func() {
			bad := cfg
			bad.URL = "amqp://invalid:5672"
			invalidClient := clientmq.New(bad, testLogger)
			Expect(invalidClient).NotTo(BeNil())

			// Should not crash, will keep retrying in background
			time.Sleep(500 * time.Millisecond)

			_ = invalidClient.Close()
		})
	})

	Describe("Publishing", func() {
		BeforeEach(func() {
			client = clientmq.New(cfg, testLogger)
			time.Sleep(2 * time.Second) // Wait for connection
		})

		It("should publish a message with a routing key", func() {
			err := client.Push(ctx, "chambers.FR-TEST-001.data", []byte(`{"temperature":18.5}`))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should publish multiple messages successfully", func() {
			for i := 0; i < 5; i++ {
				key := fmt.Sprintf("chambers.FR-TEST-%03d.data", i)
				err := client.Push(ctx, key, []byte("payload"))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should use UnsafePush without blocking", func() {
			err := client.UnsafePush(ctx, "chambers.FR-TEST-001.data", []byte("unsafe message"))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Topic routing", func() {
		BeforeEach(func() {
			client = clientmq.New(cfg, testLogger)
			time.Sleep(2 * time.Second)
		})

		It("should deliver messages whose keys match the binding pattern", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			// Wait for consumer to register on server
			time.Sleep(500 * time.Millisecond)

			err = client.Push(ctx, "chambers.FR-TEST-001.data", []byte("matched"))
			Expect(err).NotTo(HaveOccurred())

			select {
			case delivery := <-deliveries:
				Expect(string(delivery.Body)).To(Equal("matched"))
				Expect(delivery.RoutingKey).To(Equal("chambers.FR-TEST-001.data"))
				Expect(delivery.Ack(false)).To(Succeed())
			case <-time.After(5 * time.Second):
				Fail("Did not receive message within timeout")
			}
		})

		It("should not deliver messages with non-matching keys", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(500 * time.Millisecond)

			err = client.Push(ctx, "sensors.unrelated", []byte("unrouted"))
			Expect(err).NotTo(HaveOccurred())

			select {
			case delivery := <-deliveries:
				Fail("Unexpected delivery: " + string(delivery.Body))
			case <-time.After(2 * time.Second):
				// No delivery expected.
			}
		})

		It("should consume multiple messages in order", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(500 * time.Millisecond)

			messages := []string{"first", "second", "third"}
			for _, msg := range messages {
				err := client.Push(ctx, "chambers.FR-TEST-001.data", []byte(msg))
				Expect(err).NotTo(HaveOccurred())
			}

			received := make([]string, 0, 3)
			for i := 0; i < 3; i++ {
				select {
				case delivery := <-deliveries:
					received = append(received, string(delivery.Body))
					Expect(delivery.Ack(false)).To(Succeed())
				case <-time.After(5 * time.Second):
					Fail("Did not receive all messages within timeout")
				}
			}

			Expect(received).To(Equal(messages))
		})
	})

	Describe("Error Handling", func() {
		It("should fail fast on publish before connection", func() {
			client = clientmq.New(cfg, testLogger)
			// Don't wait for connection

			err := client.UnsafePush(ctx, "chambers.FR-TEST-001.data", []byte("test"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Resource Cleanup", func() {
		It("should close client cleanly", func() {
			client = clientmq.New(cfg, testLogger)
			time.Sleep(2 * time.Second)

			err := client.Close()
			Expect(err).NotTo(HaveOccurred())

			client = nil // Prevent double close in AfterEach
		})

		It("should handle double close gracefully", func() {
			client = clientmq.New(cfg, testLogger)
			time.Sleep(2 * time.Second)

			err1 := client.Close()
			Expect(err1).NotTo(HaveOccurred())

			err2 := client.Close()
			Expect(err2).To(HaveOccurred()) // Second close should error

			client = nil
		})
	})
})
