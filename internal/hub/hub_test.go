package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fruitripe.dev/chamber-hub/internal/hub"
)

// fakeOwners answers ownership checks from a fixed table.
type fakeOwners struct {
	owned map[[2]uint]bool
	err   error
}

func (f *fakeOwners) ChamberOwned(_ context.Context, chamberID, userID uint) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.owned[[2]uint{chamberID, userID}], nil
}

// drain reads one payload from the session outbox or fails.
func drain(s *hub.Session) hub.Event {
	var event hub.Event
	select {
	case payload := <-s.Outbox():
		Expect(json.Unmarshal(payload, &event)).To(Succeed())
	case <-time.After(time.Second):
		Fail("expected a delivery on the session outbox")
	}
	return event
}

var _ = Describe("Hub", func() {
	var (
		ctx    context.Context
		logger *slog.Logger
		owners *fakeOwners
		h      *hub.Hub
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		owners = &fakeOwners{owned: map[[2]uint]bool{
			{1, 10}: true,
			{2, 10}: true,
			{1, 20}: false,
		}}

		var err error
		h, err = hub.New(owners, logger)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("should return error when ownership checker is nil", func() {
			created, err := hub.New(nil, logger)
			Expect(err).To(HaveOccurred())
			Expect(created).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			created, err := hub.New(owners, nil)
			Expect(err).To(HaveOccurred())
			Expect(created).To(BeNil())
		})
	})

	Describe("Join", func() {
		It("should add an owning session to the room", func() {
			s := hub.NewSession(10)
			h.Join(ctx, s, 1)
			Expect(h.MemberCount(1)).To(Equal(1))
		})

		It("should silently ignore a join for a chamber the user does not own", func() {
			s := hub.NewSession(20)
			h.Join(ctx, s, 1)
			Expect(h.MemberCount(1)).To(BeZero())
		})

		It("should silently ignore a join for an unknown chamber", func() {
			s := hub.NewSession(10)
			h.Join(ctx, s, 99)
			Expect(h.MemberCount(99)).To(BeZero())
		})

		It("should ignore chamber id zero", func() {
			s := hub.NewSession(10)
			h.Join(ctx, s, 0)
			Expect(h.MemberCount(0)).To(BeZero())
		})

		It("should not register the session when the ownership check fails", func() {
			owners.err = errors.New("store down")
			s := hub.NewSession(10)
			h.Join(ctx, s, 1)
			Expect(h.MemberCount(1)).To(BeZero())
		})

		It("should be idempotent for repeated joins", func() {
			s := hub.NewSession(10)
			h.Join(ctx, s, 1)
			h.Join(ctx, s, 1)
			Expect(h.MemberCount(1)).To(Equal(1))
		})
	})

	Describe("Leave", func() {
		It("should remove the session from the room", func() {
			s := hub.NewSession(10)
			h.Join(ctx, s, 1)
			h.Leave(s, 1)
			Expect(h.MemberCount(1)).To(BeZero())
		})

		It("should tolerate leaving a room the session never joined", func() {
			s := hub.NewSession(10)
			h.Leave(s, 1)
			Expect(h.MemberCount(1)).To(BeZero())
		})
	})

	Describe("Detach", func() {
		It("should remove the session from every room and close it", func() {
			s := hub.NewSession(10)
			h.Join(ctx, s, 1)
			h.Join(ctx, s, 2)

			h.Detach(s)

			Expect(h.MemberCount(1)).To(BeZero())
			Expect(h.MemberCount(2)).To(BeZero())
			Eventually(s.Done()).Should(BeClosed())
		})

		It("should be idempotent", func() {
			s := hub.NewSession(10)
			h.Join(ctx, s, 1)
			h.Detach(s)
			h.Detach(s)
			Expect(h.MemberCount(1)).To(BeZero())
		})
	})

	Describe("Publish", func() {
		var reading hub.Reading

		BeforeEach(func() {
			reading = hub.Reading{
				ChamberID:   1,
				Temperature: 18.5,
				Humidity:    90.1,
				CO2:         640,
				Ethylene:    12.3,
				Timestamp:   time.Now().UTC().Truncate(time.Second),
			}
		})

		It("should deliver the reading to room members as a reading event", func() {
			s := hub.NewSession(10)
			h.Join(ctx, s, 1)

			h.Publish(1, reading)

			event := drain(s)
			Expect(event.Event).To(Equal("reading"))
			Expect(event.Data.ChamberID).To(Equal(uint(1)))
			Expect(event.Data.Temperature).To(Equal(18.5))
		})

		It("should not deliver to sessions in other rooms", func() {
			watching := hub.NewSession(10)
			other := hub.NewSession(10)
			h.Join(ctx, watching, 1)
			h.Join(ctx, other, 2)

			h.Publish(1, reading)

			Expect(watching.Outbox()).To(Receive())
			Consistently(other.Outbox()).ShouldNot(Receive())
		})

		It("should deliver readings in publish order", func() {
			s := hub.NewSession(10)
			h.Join(ctx, s, 1)

			for i := 0; i < 5; i++ {
				r := reading
				r.Temperature = float64(i)
				h.Publish(1, r)
			}

			for i := 0; i < 5; i++ {
				Expect(drain(s).Data.Temperature).To(Equal(float64(i)))
			}
		})

		It("should drop readings for a session with a full outbox without blocking", func() {
			slow := hub.NewSession(10)
			h.Join(ctx, slow, 1)

			// One more than the outbox can hold.
			for i := 0; i < 65; i++ {
				h.Publish(1, reading)
			}

			delivered := 0
			for {
				select {
				case <-slow.Outbox():
					delivered++
					continue
				default:
				}
				break
			}
			Expect(delivered).To(Equal(64))
		})

		It("should be a no-op for an empty room", func() {
			h.Publish(1, reading)
			Expect(h.MemberCount(1)).To(BeZero())
		})
	})
})
