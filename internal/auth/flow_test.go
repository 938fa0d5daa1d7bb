// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/authz"
	"github.com/holomush/gatekeeper/internal/credential"
	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/internal/identity/memory"
	"github.com/holomush/gatekeeper/internal/token"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func haveCode(code string) OmegaMatcher {
	return WithTransform(errutil.Code, Equal(code))
}

var _ = Describe("Account lifecycle", func() {
	var (
		ctx    context.Context
		store  *memory.Store
		tokens *token.Service
		svc    *auth.Service
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }

		store = memory.NewStoreWithClock(clock)
		Expect(store.UpsertRole(ctx, identity.Role{
			Name:        "user",
			Permissions: []identity.Permission{{Resource: "profile", Action: "read"}},
		})).To(Succeed())
		Expect(store.UpsertRole(ctx, identity.Role{
			Name:        "admin",
			Permissions: []identity.Permission{{Resource: "user", Action: "update"}},
		})).To(Succeed())

		var err error
		tokens, err = token.NewService(
			token.WithSecret([]byte("0123456789abcdef0123456789abcdef")),
			token.WithTTL(time.Hour),
			token.WithClock(clock),
		)
		Expect(err).NotTo(HaveOccurred())

		hasher := credential.NewArgon2idHasher(credential.WithParams(credential.Params{Time: 1, Memory: 1024, Threads: 1}))
		svc, err = auth.NewService(store, hasher, tokens, auth.WithClock(clock))
		Expect(err).NotTo(HaveOccurred())
	})

	register := func() *auth.Session {
		session, err := svc.Register(ctx, identity.Registration{
			Email:    "Grace@Example.com",
			Username: "grace",
			Password: "C0bol!Compiler",
		})
		Expect(err).NotTo(HaveOccurred())
		return session
	}

	It("registers, logs in, refreshes, and logs out", func() {
		registered := register()
		Expect(registered.Identity.Email).To(Equal("grace@example.com"))
		Expect(registered.Identity.RoleNames()).To(Equal([]string{"user"}))
		Expect(registered.ExpiresAt).To(Equal(now.Add(time.Hour)))

		login, err := svc.Login(ctx, "grace@example.com", "C0bol!Compiler")
		Expect(err).NotTo(HaveOccurred())
		Expect(login.Identity.ID).To(Equal(registered.Identity.ID))

		now = now.Add(time.Minute)
		refreshed, err := svc.Refresh(ctx, login.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.Token).NotTo(Equal(login.Token))

		_, err = svc.Authenticate(ctx, login.Token)
		Expect(err).NotTo(HaveOccurred(), "refresh keeps the presented token valid")

		Expect(svc.Logout(ctx, refreshed.Token)).To(Succeed())
		_, err = svc.Authenticate(ctx, refreshed.Token)
		Expect(err).To(haveCode(token.CodeRevoked))
	})

	It("rejects a second registration with the same email in another case", func() {
		register()
		_, err := svc.Register(ctx, identity.Registration{
			Email:    "GRACE@example.com",
			Username: "hopper",
			Password: "C0bol!Compiler",
		})
		Expect(err).To(haveCode(identity.CodeDuplicate))
	})

	It("expires tokens after their lifetime", func() {
		session := register()
		now = now.Add(time.Hour)
		_, err := svc.Authenticate(ctx, session.Token)
		Expect(err).To(haveCode(token.CodeExpired))
	})

	It("stops authenticating a disabled account", func() {
		session := register()
		Expect(svc.SetActive(ctx, session.Identity.ID, false)).To(Succeed())

		_, err := svc.Authenticate(ctx, session.Token)
		Expect(err).To(haveCode(auth.CodeAccountDisabled))

		_, err = svc.Login(ctx, "grace@example.com", "C0bol!Compiler")
		Expect(err).To(haveCode(auth.CodeAccountDisabled))
	})

	It("changes the password", func() {
		session := register()
		Expect(svc.ChangePassword(ctx, session.Identity.ID, "C0bol!Compiler", "N3w!Flowmatic")).To(Succeed())

		_, err := svc.Login(ctx, "grace@example.com", "C0bol!Compiler")
		Expect(err).To(haveCode(auth.CodeInvalidCredentials))
		_, err = svc.Login(ctx, "grace@example.com", "N3w!Flowmatic")
		Expect(err).NotTo(HaveOccurred())
	})

	It("authorizes by role and permission after a grant", func() {
		session := register()
		ident, err := svc.Authenticate(ctx, session.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.Authorize(ctx, ident, authz.RequirePermission("user", "update"))).To(BeFalse())

		Expect(store.AssignRole(ctx, ident.ID, "admin")).To(Succeed())
		ident, err = svc.Authenticate(ctx, session.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.Authorize(ctx, ident, authz.RequireRole("admin"))).To(BeTrue())
		Expect(svc.Authorize(ctx, ident, authz.RequirePermission("user", "update"))).To(BeTrue())
		Expect(svc.Authorize(ctx, ident, authz.RequirePermission("user", "delete"))).To(BeFalse())
	})

	It("treats logout of a malformed token as an error", func() {
		Expect(svc.Logout(ctx, "not-a-token")).To(haveCode(token.CodeMalformed))
	})
})
