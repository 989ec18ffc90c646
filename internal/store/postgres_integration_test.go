// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/authd-dev/authd/internal/store"
)

var _ = Describe("PostgreSQL store", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("authd_test"),
			postgres.WithUsername("authd"),
			postgres.WithPassword("authd"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		pool, err = store.Connect(ctx, store.ConnectConfig{URL: connStr, Timeout: 30 * time.Second}, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	tableExists := func(name string) bool {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			name).Scan(&exists)
		Expect(err).NotTo(HaveOccurred())
		return exists
	}

	Describe("Migrator", func() {
		It("runs the full up, step and down cycle", func() {
			migrator, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = migrator.Close() }()

			version, dirty, err := migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())
			Expect(dirty).To(BeFalse())

			Expect(migrator.Up()).To(Succeed())
			Expect(tableExists("accounts")).To(BeTrue())
			Expect(tableExists("one_time_codes")).To(BeTrue())
			Expect(tableExists("sessions")).To(BeTrue())

			status, err := migrator.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Pending).To(BeEmpty())
			latest := status.Current

			Expect(migrator.Steps(-1)).To(Succeed())
			Expect(tableExists("sessions")).To(BeFalse())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(latest - 1))

			Expect(migrator.Up()).To(Succeed())
			Expect(migrator.Up()).To(Succeed(), "a second Up is a no-op")
		})
	})

	Describe("schema constraints", func() {
		It("rejects a second unrevoked session for one account", func() {
			_, err := pool.Exec(ctx, `
				INSERT INTO accounts (id, email, password_hash, name)
				VALUES ('01HZZZZZZZZZZZZZZZZZZZZZZZ', 'schema@example.com', 'x', 'Schema')`)
			Expect(err).NotTo(HaveOccurred())

			insert := `INSERT INTO sessions (id, account_id, token_hash, expires_at)
				VALUES ($1, '01HZZZZZZZZZZZZZZZZZZZZZZZ', 'h', NOW() + INTERVAL '1 day')`
			_, err = pool.Exec(ctx, insert, "01J00000000000000000000001")
			Expect(err).NotTo(HaveOccurred())
			_, err = pool.Exec(ctx, insert, "01J00000000000000000000002")
			Expect(err).To(HaveOccurred())
		})

		It("treats emails case-insensitively", func() {
			_, err := pool.Exec(ctx, `
				INSERT INTO accounts (id, email, password_hash, name)
				VALUES ('01J10000000000000000000000', 'Case@Example.com', 'x', 'Case')`)
			Expect(err).NotTo(HaveOccurred())
			_, err = pool.Exec(ctx, `
				INSERT INTO accounts (id, email, password_hash, name)
				VALUES ('01J10000000000000000000001', 'case@example.com', 'x', 'Case')`)
			Expect(err).To(HaveOccurred())
		})
	})
})
