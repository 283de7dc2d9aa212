package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/dispatch/internal/model"
)

// Postgres implements Store over database/sql with lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// FetchPending returns up to limit pending messages in FIFO order.
func (s *Postgres) FetchPending(ctx context.Context, limit int) ([]*model.QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, campaign_id, contact_id,
		       from_name, from_email, to_email, subject, html_body,
		       status, attempts, COALESCE(last_error, ''), enqueued_at, sent_at
		FROM messages
		WHERE status = 'pending'
		ORDER BY enqueued_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	defer rows.Close()

	var msgs []*model.QueuedMessage
	for rows.Next() {
		var m model.QueuedMessage
		var sentAt sql.NullTime
		if err := rows.Scan(
			&m.ID, &m.AccountID, &m.CampaignID, &m.ContactID,
			&m.FromName, &m.FromEmail, &m.ToEmail, &m.Subject, &m.HTMLBody,
			&m.Status, &m.Attempts, &m.LastError, &m.EnqueuedAt, &sentAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sentAt.Valid {
			t := sentAt.Time
			m.SentAt = &t
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	return msgs, nil
}

// UpdateMessage records an attempt outcome.
func (s *Postgres) UpdateMessage(ctx context.Context, id uuid.UUID, status model.MessageStatus, attemptDelta int, errText string, sentAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $2,
		    attempts = attempts + $3,
		    last_error = NULLIF($4, ''),
		    sent_at = COALESCE($5, sent_at),
		    updated_at = NOW()
		WHERE id = $1
	`, id, status, attemptDelta, errText, sentAt)
	if err != nil {
		return fmt.Errorf("update message %s: %w", id, err)
	}
	return nil
}

// FetchAccountConfig loads an account's counters and transport config.
func (s *Postgres) FetchAccountConfig(ctx context.Context, accountID uuid.UUID) (*model.SendingAccount, error) {
	var (
		a              model.SendingAccount
		smtpHost       sql.NullString
		smtpPort       sql.NullInt64
		smtpUser       sql.NullString
		smtpPass       sql.NullString
		smtpEncryption sql.NullString
		sesAccessKey   sql.NullString
		sesSecretKey   sql.NullString
		sesRegion      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, hourly_limit, daily_limit, sent_this_hour, sent_today,
		       hourly_reset_at, daily_reset_at,
		       smtp_host, smtp_port, smtp_username, smtp_password, smtp_encryption,
		       ses_access_key, ses_secret_key, ses_region
		FROM sending_accounts
		WHERE id = $1
	`, accountID).Scan(
		&a.ID, &a.HourlyLimit, &a.DailyLimit, &a.SentThisHour, &a.SentToday,
		&a.HourlyResetAt, &a.DailyResetAt,
		&smtpHost, &smtpPort, &smtpUser, &smtpPass, &smtpEncryption,
		&sesAccessKey, &sesSecretKey, &sesRegion,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", accountID, err)
	}

	if smtpHost.Valid && smtpHost.String != "" {
		a.SMTP = &model.SMTPConfig{
			Host:       smtpHost.String,
			Port:       int(smtpPort.Int64),
			Username:   smtpUser.String,
			Password:   smtpPass.String,
			Encryption: model.SMTPEncryption(smtpEncryption.String),
		}
	}
	if sesAccessKey.Valid && sesAccessKey.String != "" {
		a.SES = &model.SESConfig{
			AccessKey: sesAccessKey.String,
			SecretKey: sesSecretKey.String,
			Region:    sesRegion.String,
		}
	}
	return &a, nil
}

// IncrementSendCounters charges one attempt against both windows.
func (s *Postgres) IncrementSendCounters(ctx context.Context, accountID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sending_accounts
		SET sent_this_hour = sent_this_hour + 1,
		    sent_today = sent_today + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, accountID)
	if err != nil {
		return fmt.Errorf("increment counters for %s: %w", accountID, err)
	}
	return nil
}

// ResetHourlyWindow zeroes the hourly counter when the window elapsed. The
// WHERE guard makes the reset happen exactly once per window even when
// several dispatcher invocations race.
func (s *Postgres) ResetHourlyWindow(ctx context.Context, accountID uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sending_accounts
		SET sent_this_hour = 0, hourly_reset_at = $2, updated_at = NOW()
		WHERE id = $1 AND hourly_reset_at <= $3
	`, accountID, now, now.Add(-time.Hour))
	if err != nil {
		return false, fmt.Errorf("reset hourly window for %s: %w", accountID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResetDailyWindow zeroes the daily counter when the window elapsed.
func (s *Postgres) ResetDailyWindow(ctx context.Context, accountID uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sending_accounts
		SET sent_today = 0, daily_reset_at = $2, updated_at = NOW()
		WHERE id = $1 AND daily_reset_at <= $3
	`, accountID, now, now.Add(-24*time.Hour))
	if err != nil {
		return false, fmt.Errorf("reset daily window for %s: %w", accountID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountPendingForCampaign returns the number of still-pending messages.
func (s *Postgres) CountPendingForCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE campaign_id = $1 AND status = 'pending'
	`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending for campaign %s: %w", campaignID, err)
	}
	return n, nil
}

// SetCampaignStatus writes the rolled-up campaign status.
func (s *Postgres) SetCampaignStatus(ctx context.Context, campaignID uuid.UUID, status model.CampaignStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, campaignID, status)
	if err != nil {
		return fmt.Errorf("set campaign %s status: %w", campaignID, err)
	}
	return nil
}

// InsertDeliveryEvent appends an open/click/unsubscribe fact.
func (s *Postgres) InsertDeliveryEvent(ctx context.Context, evt *model.DeliveryEvent) error {
	id := evt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_events (id, message_id, campaign_id, account_id, event_type, link_url, ip_address, user_agent, occurred_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
	`, id, evt.MessageID, evt.CampaignID, evt.AccountID, evt.Type, evt.LinkURL, evt.IPAddress, evt.UserAgent, evt.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert delivery event: %w", err)
	}
	return nil
}
