package auth_test

import (
	"context"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fruitripe.dev/chamber-hub/internal/auth"
)

var _ = Describe("Service", func() {
	var (
		ctx    context.Context
		logger *slog.Logger
		users  *memUsers
		tokens *memTokens
		mailer *recordingMailer
		svc    *auth.Service
	)

	newService := func(cfg auth.Config) *auth.Service {
		if len(cfg.JWTSecret) == 0 {
			cfg.JWTSecret = []byte("test-secret")
		}
		s, err := auth.NewService(users, tokens, mailer, logger, cfg)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		users = newMemUsers()
		tokens = newMemTokens()
		mailer = &recordingMailer{}
		svc = newService(auth.Config{})
	})

	Describe("NewService", func() {
		It("should return error when user store is nil", func() {
			s, err := auth.NewService(nil, tokens, mailer, logger, auth.Config{JWTSecret: []byte("x")})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("user store"))
			Expect(s).To(BeNil())
		})

		It("should return error when token store is nil", func() {
			s, err := auth.NewService(users, nil, mailer, logger, auth.Config{JWTSecret: []byte("x")})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("token store"))
			Expect(s).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			s, err := auth.NewService(users, tokens, mailer, nil, auth.Config{JWTSecret: []byte("x")})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger"))
			Expect(s).To(BeNil())
		})

		It("should return error when jwt secret is empty", func() {
			s, err := auth.NewService(users, tokens, mailer, logger, auth.Config{})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("jwt secret"))
			Expect(s).To(BeNil())
		})

		It("should accept a nil mailer", func() {
			s, err := auth.NewService(users, tokens, nil, logger, auth.Config{JWTSecret: []byte("x")})
			Expect(err).NotTo(HaveOccurred())
			Expect(s).NotTo(BeNil())
		})
	})

	Describe("Register", func() {
		It("should open a session with both tokens and the user", func() {
			session, err := svc.Register(ctx, "Ana", "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())
			Expect(session.AccessToken).NotTo(BeEmpty())
			Expect(session.RefreshToken).NotTo(BeEmpty())
			Expect(session.User.Email).To(Equal("ana@example.com"))
			Expect(session.User.ID).NotTo(BeZero())
		})

		It("should not store the plaintext password", func() {
			_, err := svc.Register(ctx, "Ana", "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())

			user, err := users.UserByEmail(ctx, "ana@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.PasswordHash).NotTo(ContainSubstring("orchard-pass"))
		})

		It("should reject a duplicate email", func() {
			_, err := svc.Register(ctx, "Ana", "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())

			session, err := svc.Register(ctx, "Other", "ana@example.com", "another-pass")
			Expect(err).To(MatchError(auth.ErrEmailTaken))
			Expect(session).To(BeNil())
		})
	})

	Describe("Login", func() {
		BeforeEach(func() {
			_, err := svc.Register(ctx, "Ana", "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should open a session with valid credentials", func() {
			session, err := svc.Login(ctx, "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())
			Expect(session.User.Email).To(Equal("ana@example.com"))
		})

		It("should return the same error for a wrong password and an unknown email", func() {
			_, wrongPass := svc.Login(ctx, "ana@example.com", "not-the-pass")
			_, unknown := svc.Login(ctx, "nobody@example.com", "orchard-pass")

			Expect(wrongPass).To(MatchError(auth.ErrInvalidCredentials))
			Expect(unknown).To(MatchError(auth.ErrInvalidCredentials))
		})

		It("should allow multiple concurrent sessions per user", func() {
			first, err := svc.Login(ctx, "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())
			second, err := svc.Login(ctx, "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())

			// The first session's refresh token still rotates.
			Expect(first.RefreshToken).NotTo(Equal(second.RefreshToken))
			_, err = svc.Refresh(ctx, first.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Refresh", func() {
		var session *auth.Session

		BeforeEach(func() {
			var err error
			session, err = svc.Register(ctx, "Ana", "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should rotate the refresh token", func() {
			next, err := svc.Refresh(ctx, session.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.RefreshToken).NotTo(Equal(session.RefreshToken))
			Expect(next.User.ID).To(Equal(session.User.ID))
		})

		It("should reject a replayed, already-rotated token", func() {
			_, err := svc.Refresh(ctx, session.RefreshToken)
			Expect(err).NotTo(HaveOccurred())

			replayed, err := svc.Refresh(ctx, session.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
			Expect(replayed).To(BeNil())
		})

		It("should reject an unknown token", func() {
			_, err := svc.Refresh(ctx, "never-issued")
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})

		It("should reject an expired token and reap its row", func() {
			tokens.expireRefresh()

			_, err := svc.Refresh(ctx, session.RefreshToken)
			Expect(err).To(MatchError(auth.ErrExpiredToken))
			Expect(tokens.refreshCount()).To(BeZero())
		})
	})

	Describe("Logout", func() {
		It("should invalidate the refresh token", func() {
			session, err := svc.Register(ctx, "Ana", "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.Logout(ctx, session.RefreshToken)).To(Succeed())

			_, err = svc.Refresh(ctx, session.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})

		It("should be idempotent for unknown tokens", func() {
			Expect(svc.Logout(ctx, "never-issued")).To(Succeed())
		})
	})

	Describe("ForgotPassword", func() {
		BeforeEach(func() {
			_, err := svc.Register(ctx, "Ana", "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should create a reset token and send mail for a known email", func() {
			reset, err := svc.ForgotPassword(ctx, "ana@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(reset.ResetURL).To(ContainSubstring("token="))

			Expect(tokens.resetCount()).To(Equal(1))
			Expect(mailer.sent()).To(HaveLen(1))
			Expect(mailer.sent()[0].Email).To(Equal("ana@example.com"))
		})

		It("should succeed without side effects for an unknown email", func() {
			reset, err := svc.ForgotPassword(ctx, "nobody@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(reset.Token).To(BeEmpty())
			Expect(tokens.resetCount()).To(BeZero())
			Expect(mailer.sent()).To(BeEmpty())
		})

		It("should not echo the raw token by default", func() {
			reset, err := svc.ForgotPassword(ctx, "ana@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(reset.Token).To(BeEmpty())
		})

		It("should echo the raw token when the debug flag is set", func() {
			svc = newService(auth.Config{ReturnResetToken: true})

			reset, err := svc.ForgotPassword(ctx, "ana@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(reset.Token).NotTo(BeEmpty())
		})

		It("should swallow mail delivery failures", func() {
			mailer.err = context.DeadlineExceeded

			_, err := svc.ForgotPassword(ctx, "ana@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens.resetCount()).To(Equal(1))
		})
	})

	Describe("ResetPassword", func() {
		var rawToken string

		BeforeEach(func() {
			svc = newService(auth.Config{ReturnResetToken: true})

			_, err := svc.Register(ctx, "Ana", "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())

			reset, err := svc.ForgotPassword(ctx, "ana@example.com")
			Expect(err).NotTo(HaveOccurred())
			rawToken = reset.Token
			Expect(rawToken).NotTo(BeEmpty())
		})

		It("should change the password exactly once", func() {
			Expect(svc.ResetPassword(ctx, rawToken, "new-pass-word")).To(Succeed())

			_, err := svc.Login(ctx, "ana@example.com", "new-pass-word")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Login(ctx, "ana@example.com", "orchard-pass")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))

			err = svc.ResetPassword(ctx, rawToken, "third-pass-word")
			Expect(err).To(MatchError(auth.ErrResetTokenInvalid))
		})

		It("should reject an unknown token", func() {
			err := svc.ResetPassword(ctx, "never-issued", "new-pass-word")
			Expect(err).To(MatchError(auth.ErrResetTokenInvalid))
		})

		It("should reject an expired token", func() {
			tokens.expireResets()

			err := svc.ResetPassword(ctx, rawToken, "new-pass-word")
			Expect(err).To(MatchError(auth.ErrResetTokenInvalid))
		})
	})

	Describe("VerifyAccessToken", func() {
		It("should return claims for a live session token", func() {
			session, err := svc.Register(ctx, "Ana", "ana@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())

			claims, err := svc.VerifyAccessToken(session.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims.UserID).To(Equal(session.User.ID))
			Expect(claims.Email).To(Equal("ana@example.com"))
		})

		It("should reject garbage", func() {
			_, err := svc.VerifyAccessToken("not-a-jwt")
			Expect(err).To(MatchError(auth.ErrUnauthorized))
		})

		It("should reject a token signed with a different secret", func() {
			other := newService(auth.Config{JWTSecret: []byte("different-secret")})
			session, err := other.Register(ctx, "Bob", "bob@example.com", "orchard-pass")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.VerifyAccessToken(session.AccessToken)
			Expect(err).To(MatchError(auth.ErrUnauthorized))
		})
	})
})
