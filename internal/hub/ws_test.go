package hub_test

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fruitripe.dev/chamber-hub/internal/auth"
	"fruitripe.dev/chamber-hub/internal/hub"
)

// fakeVerifier accepts a single known token.
type fakeVerifier struct {
	token  string
	userID uint
}

func (f *fakeVerifier) VerifyAccessToken(token string) (*auth.Claims, error) {
	if token != f.token {
		return nil, auth.ErrUnauthorized
	}
	return &auth.Claims{UserID: f.userID}, nil
}

var _ = Describe("WSHandler", func() {
	var (
		logger   *slog.Logger
		owners   *fakeOwners
		h        *hub.Hub
		verifier *fakeVerifier
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		owners = &fakeOwners{owned: map[[2]uint]bool{
			{1, 10}: true,
		}}
		verifier = &fakeVerifier{token: "good-token", userID: 10}

		var err error
		h, err = hub.New(owners, logger)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewWSHandler", func() {
		It("should return error when hub is nil", func() {
			handler, err := hub.NewWSHandler(nil, verifier, logger, hub.WSConfig{})
			Expect(err).To(HaveOccurred())
			Expect(handler).To(BeNil())
		})

		It("should return error when verifier is nil", func() {
			handler, err := hub.NewWSHandler(h, nil, logger, hub.WSConfig{})
			Expect(err).To(HaveOccurred())
			Expect(handler).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			handler, err := hub.NewWSHandler(h, verifier, nil, hub.WSConfig{})
			Expect(err).To(HaveOccurred())
			Expect(handler).To(BeNil())
		})
	})

	Describe("connection lifecycle", func() {
		var (
			server *httptest.Server
			wsURL  string
		)

		BeforeEach(func() {
			handler, err := hub.NewWSHandler(h, verifier, logger, hub.WSConfig{
				AllowedOrigins: []string{"*"},
			})
			Expect(err).NotTo(HaveOccurred())

			server = httptest.NewServer(handler)
			wsURL = "ws" + strings.TrimPrefix(server.URL, "http")
		})

		AfterEach(func() {
			server.Close()
		})

		It("should reject the handshake without a valid token", func() {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).To(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(401))
			if conn != nil {
				conn.Close()
			}
		})

		It("should accept a token passed as a query parameter", func() {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good-token", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
		})

		It("should deliver published readings after a join_room control frame", func() {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good-token", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Expect(conn.WriteJSON(map[string]string{
				"action": "join_room",
				"room":   "chamber_1",
			})).To(Succeed())

			// The join is processed asynchronously by the read loop.
			Eventually(func() int {
				return h.MemberCount(1)
			}).Should(Equal(1))

			h.Publish(1, hub.Reading{ChamberID: 1, Temperature: 17.2, Timestamp: time.Now().UTC()})

			Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
			_, payload, err := conn.ReadMessage()
			Expect(err).NotTo(HaveOccurred())

			var event hub.Event
			Expect(json.Unmarshal(payload, &event)).To(Succeed())
			Expect(event.Event).To(Equal("reading"))
			Expect(event.Data.Temperature).To(Equal(17.2))
		})

		It("should ignore join frames with malformed room names", func() {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good-token", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			for _, room := range []string{"chamber_", "chamber_0", "room_1", "chamber_abc"} {
				Expect(conn.WriteJSON(map[string]string{
					"action": "join_room",
					"room":   room,
				})).To(Succeed())
			}

			Consistently(func() int {
				return h.MemberCount(1)
			}).Should(BeZero())
		})

		It("should remove the session from its rooms when a leave_room frame arrives", func() {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good-token", nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Expect(conn.WriteJSON(map[string]string{
				"action": "join_room",
				"room":   "chamber_1",
			})).To(Succeed())
			Eventually(func() int { return h.MemberCount(1) }).Should(Equal(1))

			Expect(conn.WriteJSON(map[string]string{
				"action": "leave_room",
				"room":   "chamber_1",
			})).To(Succeed())
			Eventually(func() int { return h.MemberCount(1) }).Should(BeZero())
		})

		It("should detach the session when the connection closes", func() {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good-token", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(conn.WriteJSON(map[string]string{
				"action": "join_room",
				"room":   "chamber_1",
			})).To(Succeed())
			Eventually(func() int { return h.MemberCount(1) }).Should(Equal(1))

			conn.Close()
			Eventually(func() int { return h.MemberCount(1) }).Should(BeZero())
		})
	})
})
