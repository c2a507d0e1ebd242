package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds one statement per entry; the driver is opened without
// multiStatements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
        id                 CHAR(36)        NOT NULL,
        customer_id        VARCHAR(64)     NOT NULL,
        professional_id    VARCHAR(64)     NULL,
        service_id         VARCHAR(64)     NOT NULL,
        status             VARCHAR(16)     NOT NULL,
        payment_status     VARCHAR(16)     NOT NULL,
        requested_at       DATETIME(6)     NOT NULL,
        address_json       JSON            NOT NULL,
        total_amount_cents BIGINT          NOT NULL,
        currency           CHAR(3)         NOT NULL,
        gateway_order_id   VARCHAR(128)    NULL,
        gateway_payment_id VARCHAR(128)    NULL,
        seq                BIGINT UNSIGNED NOT NULL DEFAULT 0,
        created_at         DATETIME(6)     NOT NULL,
        updated_at         DATETIME(6)     NOT NULL,
        PRIMARY KEY (id),
        UNIQUE KEY uq_bookings_order (gateway_order_id),
        UNIQUE KEY uq_bookings_payment (gateway_payment_id),
        KEY idx_bookings_customer (customer_id, created_at),
        KEY idx_bookings_professional (professional_id, created_at),
        KEY idx_bookings_status (status)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS booking_events (
        booking_id      CHAR(36)        NOT NULL,
        seq             BIGINT UNSIGNED NOT NULL,
        kind            VARCHAR(16)     NOT NULL,
        prior_status    VARCHAR(16)     NOT NULL,
        new_status      VARCHAR(16)     NOT NULL,
        payment_status  VARCHAR(16)     NOT NULL,
        actor_id        VARCHAR(64)     NOT NULL,
        actor_role      VARCHAR(16)     NOT NULL,
        customer_id     VARCHAR(64)     NOT NULL,
        professional_id VARCHAR(64)     NULL,
        occurred_at     DATETIME(6)     NOT NULL,
        PRIMARY KEY (booking_id, seq)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the tables used by the booking store if they do not
// exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
