// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/internal/identity/postgres"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

var _ = Describe("Store", func() {
	var (
		ctx context.Context
		s   *postgres.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = postgres.NewStore(testPool)

		_, err := testPool.Exec(ctx, `TRUNCATE identities, roles CASCADE`)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.UpsertRole(ctx, identity.Role{
			Name: "user",
			Permissions: []identity.Permission{
				{Resource: "user", Action: "read"},
				{Resource: "profile", Action: "update"},
			},
		})).To(Succeed())
	})

	create := func(email, username string, roles ...string) (*identity.Identity, error) {
		return s.Create(ctx, identity.NewIdentity{
			Email:        email,
			Username:     username,
			PasswordHash: "$argon2id$record",
			Roles:        roles,
		})
	}

	Describe("Create", func() {
		It("stores an active identity with its roles", func() {
			created, err := create("ada@example.com", "ada", "user")
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Active).To(BeTrue())
			Expect(created.RoleNames()).To(Equal([]string{"user"}))
			Expect(created.Roles[0].Permissions).To(HaveLen(2))

			found, err := s.FindByEmail(ctx, "ADA@EXAMPLE.COM")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(created.ID))
		})

		It("rejects duplicate email and username regardless of case", func() {
			_, err := create("ada@example.com", "ada")
			Expect(err).NotTo(HaveOccurred())

			_, err = create("Ada@Example.com", "other")
			Expect(errutil.Code(err)).To(Equal(identity.CodeDuplicate))

			_, err = create("other@example.com", "ADA")
			Expect(errutil.Code(err)).To(Equal(identity.CodeDuplicate))
		})

		It("writes nothing when a role is unknown", func() {
			_, err := create("ghost@example.com", "ghost", "user", "ghost")
			Expect(errutil.Code(err)).To(Equal(identity.CodeRoleNotFound))

			found, err := s.FindByEmail(ctx, "ghost@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeNil())
		})
	})

	Describe("updates", func() {
		It("records login, activation and password changes", func() {
			created, err := create("ada@example.com", "ada", "user")
			Expect(err).NotTo(HaveOccurred())

			at := time.Now().UTC().Truncate(time.Microsecond)
			Expect(s.UpdateLastLogin(ctx, created.ID, at)).To(Succeed())
			Expect(s.SetActive(ctx, created.ID, false)).To(Succeed())
			Expect(s.UpdatePasswordHash(ctx, created.ID, "$argon2id$new")).To(Succeed())

			found, err := s.FindByID(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(found.LastLoginAt).NotTo(BeNil())
			Expect(found.LastLoginAt.Equal(at)).To(BeTrue())
			Expect(found.Active).To(BeFalse())
			Expect(found.PasswordHash).To(Equal("$argon2id$new"))
		})

		It("reports unknown identities", func() {
			err := s.SetActive(ctx, "01MISSING", true)
			Expect(errutil.Code(err)).To(Equal(identity.CodeNotFound))
		})
	})

	Describe("roles", func() {
		It("assigns, revokes and lists", func() {
			created, err := create("ada@example.com", "ada", "user")
			Expect(err).NotTo(HaveOccurred())

			Expect(s.UpsertRole(ctx, identity.Role{Name: "admin", Permissions: []identity.Permission{
				{Resource: "user", Action: "update"},
			}})).To(Succeed())
			Expect(s.AssignRole(ctx, created.ID, "admin")).To(Succeed())
			Expect(s.AssignRole(ctx, created.ID, "admin")).To(Succeed())

			found, err := s.FindByID(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(found.RoleNames()).To(ConsistOf("user", "admin"))

			Expect(s.RevokeRole(ctx, created.ID, "admin")).To(Succeed())
			Expect(s.RevokeRole(ctx, created.ID, "admin")).To(Succeed())

			roles, err := s.ListRoles(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(roles).To(HaveLen(2))
			Expect(roles[0].Name).To(Equal("admin"))

			Expect(errutil.Code(s.AssignRole(ctx, created.ID, "ghost"))).To(Equal(identity.CodeRoleNotFound))
			Expect(errutil.Code(s.AssignRole(ctx, "01MISSING", "user"))).To(Equal(identity.CodeNotFound))
			Expect(errutil.Code(s.RevokeRole(ctx, "01MISSING", "user"))).To(Equal(identity.CodeNotFound))
		})

		It("replaces permissions on upsert", func() {
			Expect(s.UpsertRole(ctx, identity.Role{Name: "user", Description: "Regular", Permissions: []identity.Permission{
				{Resource: "user", Action: "read"},
			}})).To(Succeed())

			role, err := s.FindRole(ctx, "user")
			Expect(err).NotTo(HaveOccurred())
			Expect(role.Description).To(Equal("Regular"))
			Expect(role.Permissions).To(HaveLen(1))
		})
	})
})
