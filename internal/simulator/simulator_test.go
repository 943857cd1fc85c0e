package simulator_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fruitripe.dev/chamber-hub/internal/simulator"
	"fruitripe.dev/chamber-hub/pkg/mq/mock"
)

var _ = Describe("Simulator", func() {
	var (
		logger   *slog.Logger
		mqClient *mock.Client
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		mqClient = &mock.Client{}
	})

	Describe("New", func() {
		It("should return error when config is nil", func() {
			sim, err := simulator.New(nil)
			Expect(err).To(HaveOccurred())
			Expect(sim).To(BeNil())
		})

		It("should return error when no serials are given", func() {
			sim, err := simulator.New(&simulator.Config{
				Logger: logger,
				Client: mqClient,
			})
			Expect(err).To(HaveOccurred())
			Expect(sim).To(BeNil())
		})

		It("should create a simulator with the provided serials", func() {
			sim, err := simulator.New(&simulator.Config{
				Logger:  logger,
				Client:  mqClient,
				Serials: []string{"FR-TEST-001", "FR-TEST-002"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(sim).NotTo(BeNil())
		})
	})

	Describe("ChamberProfile", func() {
		It("should generate a serial when none is given", func() {
			profile := simulator.NewChamberProfile("")
			Expect(profile.Serial).To(HavePrefix("FR-"))
		})

		It("should keep an explicit serial", func() {
			profile := simulator.NewChamberProfile("FR-KEEP-001")
			Expect(profile.Serial).To(Equal("FR-KEEP-001"))
		})

		It("should produce samples inside physical bounds", func() {
			profile := simulator.NewChamberProfile("FR-TEST-001")

			for i := 0; i < 100; i++ {
				sample := profile.Next(time.Now())
				data, err := json.Marshal(sample)
				Expect(err).NotTo(HaveOccurred())

				var decoded map[string]any
				Expect(json.Unmarshal(data, &decoded)).To(Succeed())
				Expect(decoded["humidity"].(float64)).To(BeNumerically(">=", 0))
				Expect(decoded["humidity"].(float64)).To(BeNumerically("<=", 100))
				Expect(decoded["co2"].(float64)).To(BeNumerically(">", 0))
				Expect(decoded["ethylene"].(float64)).To(BeNumerically(">=", 0))
				Expect(decoded["timestamp"].(string)).NotTo(BeEmpty())
			}
		})
	})

	Describe("Run", func() {
		It("should publish one reading per chamber per tick", func() {
			sim, err := simulator.New(&simulator.Config{
				Logger:   logger,
				Client:   mqClient,
				Serials:  []string{"FR-TEST-001", "FR-TEST-002"},
				Interval: 10 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				_ = sim.Run(ctx)
				close(done)
			}()

			Eventually(mqClient.PushCount).Should(BeNumerically(">=", 4))

			cancel()
			Eventually(done).Should(BeClosed())

			// Routing keys follow the chamber topic scheme.
			for _, call := range mqClient.RecordedPushes() {
				Expect(call.RoutingKey).To(HavePrefix("chambers.FR-TEST-"))
				Expect(call.RoutingKey).To(HaveSuffix(".data"))
			}
		})
	})
})
