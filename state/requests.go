package state

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/SunceWallet/signature-coordinator/faults"
	"github.com/SunceWallet/signature-coordinator/multisig"
)

// ErrNotPending is returned when a signature is saved for a request that
// no longer accepts signatures.
var ErrNotPending = errors.New("signature request is not pending")

const requestColumns = `id, hash, uri, network_passphrase, tx_xdr, callback, status, error, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (multisig.SignatureRequest, error) {
	var (
		req                             multisig.SignatureRequest
		status                          string
		expiresAt, createdAt, updatedAt int64
	)
	err := row.Scan(&req.ID, &req.Hash, &req.URI, &req.NetworkPassphrase, &req.TxXDR, &req.Callback,
		&status, &req.Error, &expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return req, err
	}
	req.Status = multisig.Status(status)
	req.ExpiresAt = fromMillis(expiresAt)
	req.CreatedAt = fromMillis(createdAt)
	req.UpdatedAt = fromMillis(updatedAt)
	return req, nil
}

// CreateRequest stores a new request with its source accounts and signers.
// If a request with the same hash exists, nothing is written and the existing
// request is returned with created set to false.
func (s *Store) CreateRequest(ctx context.Context, req multisig.SignatureRequest, accounts []multisig.SourceAccount, signers []multisig.Signer) (stored multisig.SignatureRequest, created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stored, false, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := s.now()
	req.CreatedAt = now
	req.UpdatedAt = now
	res, err := tx.ExecContext(ctx, `
		INSERT INTO signature_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`,
		req.ID, req.Hash, req.URI, req.NetworkPassphrase, req.TxXDR, req.Callback,
		string(req.Status), req.Error, toMillis(req.ExpiresAt), toMillis(now), toMillis(now),
	)
	if err != nil {
		return stored, false, errors.Wrap(err, "failed to insert signature request")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		stored, err = scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM signature_requests WHERE hash = ?`, req.Hash))
		if err != nil {
			return stored, false, errors.Wrap(err, "failed to read existing signature request")
		}
		return stored, false, tx.Commit()
	}

	for i, account := range accounts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_accounts (request_id, account_id, threshold, position)
			VALUES (?, ?, ?, ?)`,
			req.ID, account.AccountID, int(account.Threshold), i,
		)
		if err != nil {
			return stored, false, errors.Wrapf(err, "failed to insert source account %s", account.AccountID)
		}
	}
	for _, signer := range signers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO signers (request_id, source_account_id, account_id, weight)
			VALUES (?, ?, ?, ?)`,
			req.ID, signer.SourceAccountID, signer.AccountID, signer.Weight,
		)
		if err != nil {
			return stored, false, errors.Wrapf(err, "failed to insert signer %s", signer.AccountID)
		}
	}

	if err = tx.Commit(); err != nil {
		return stored, false, errors.Wrap(err, "failed to commit signature request")
	}
	return req, true, nil
}

// GetByHash returns the request with the given hash
func (s *Store) GetByHash(ctx context.Context, hash string) (multisig.SignatureRequest, error) {
	req, err := scanRequest(s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM signature_requests WHERE hash = ?`, hash))
	if err == sql.ErrNoRows {
		return req, faults.NotFound("signature request not found: %s", hash)
	}
	if err != nil {
		return req, errors.Wrap(err, "failed to query signature request")
	}
	return req, nil
}

// GetByID returns the request with the given id
func (s *Store) GetByID(ctx context.Context, id string) (multisig.SignatureRequest, error) {
	req, err := scanRequest(s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM signature_requests WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return req, faults.NotFound("signature request not found: %s", id)
	}
	if err != nil {
		return req, errors.Wrap(err, "failed to query signature request")
	}
	return req, nil
}

// GetSourceAccounts returns the source accounts of a request, transaction source first
func (s *Store) GetSourceAccounts(ctx context.Context, requestID string) ([]multisig.SourceAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, threshold FROM source_accounts
		WHERE request_id = ? ORDER BY position`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query source accounts")
	}
	defer rows.Close()

	var accounts []multisig.SourceAccount
	for rows.Next() {
		account := multisig.SourceAccount{RequestID: requestID}
		var threshold int
		if err := rows.Scan(&account.AccountID, &threshold); err != nil {
			return nil, errors.Wrap(err, "failed to scan source account")
		}
		account.Threshold = uint8(threshold)
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// GetSigners returns the signer snapshot of a request
func (s *Store) GetSigners(ctx context.Context, requestID string) ([]multisig.Signer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_account_id, account_id, weight FROM signers
		WHERE request_id = ? ORDER BY source_account_id, account_id`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query signers")
	}
	defer rows.Close()

	var signers []multisig.Signer
	for rows.Next() {
		signer := multisig.Signer{RequestID: requestID}
		if err := rows.Scan(&signer.SourceAccountID, &signer.AccountID, &signer.Weight); err != nil {
			return nil, errors.Wrap(err, "failed to scan signer")
		}
		signers = append(signers, signer)
	}
	return signers, rows.Err()
}

// GetSignatures returns the collected signatures of a request in arrival order
func (s *Store) GetSignatures(ctx context.Context, requestID string) ([]multisig.Signature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signer, decorated, created_at FROM signatures
		WHERE request_id = ? ORDER BY seq`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query signatures")
	}
	defer rows.Close()

	var signatures []multisig.Signature
	for rows.Next() {
		sig := multisig.Signature{RequestID: requestID}
		var createdAt int64
		if err := rows.Scan(&sig.Signer, &sig.Decorated, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan signature")
		}
		sig.CreatedAt = fromMillis(createdAt)
		signatures = append(signatures, sig)
	}
	return signatures, rows.Err()
}

// SaveSignature appends a signature to a pending request.
// A signature that is already stored is ignored and inserted is false.
// ErrNotPending is returned when the request left the pending status.
func (s *Store) SaveSignature(ctx context.Context, sig multisig.Signature) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM signature_requests WHERE id = ?`, sig.RequestID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, faults.NotFound("signature request not found: %s", sig.RequestID)
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to query request status")
	}
	if multisig.Status(status) != multisig.StatusPending {
		err = ErrNotPending
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO signatures (request_id, signer, decorated, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(request_id, decorated) DO NOTHING`,
		sig.RequestID, sig.Signer, sig.Decorated, toMillis(s.now()),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert signature")
	}
	n, _ := res.RowsAffected()

	if err = tx.Commit(); err != nil {
		return false, errors.Wrap(err, "failed to commit signature")
	}
	return n > 0, nil
}

// UpdateStatus moves a request from one status to the next.
// The update only happens if the request still has status from, so of two
// concurrent callers exactly one gets updated set to true.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to multisig.Status) (updated bool, err error) {
	return s.transition(ctx, id, from, to, "")
}

// MarkFailed moves a request to failed and records the cause
func (s *Store) MarkFailed(ctx context.Context, id string, from multisig.Status, cause string) (updated bool, err error) {
	return s.transition(ctx, id, from, multisig.StatusFailed, cause)
}

func (s *Store) transition(ctx context.Context, id string, from, to multisig.Status, cause string) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, faults.InvariantViolation("invariant violation: transition from %s to %s", from, to)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE signature_requests SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), cause, toMillis(s.now()), id, string(from),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to update status of %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

// ExpirePending moves every pending request whose expiry is not after now
// to expired and returns them.
func (s *Store) ExpirePending(ctx context.Context, at time.Time) (expired []multisig.SignatureRequest, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := toMillis(at)
	rows, err := tx.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM signature_requests
		WHERE status = ? AND expires_at <= ?`,
		string(multisig.StatusPending), now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query expired requests")
	}
	for rows.Next() {
		req, scanErr := scanRequest(rows)
		if scanErr != nil {
			rows.Close()
			err = errors.Wrap(scanErr, "failed to scan signature request")
			return nil, err
		}
		expired = append(expired, req)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	for i := range expired {
		_, err = tx.ExecContext(ctx, `
			UPDATE signature_requests SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(multisig.StatusExpired), now, expired[i].ID, string(multisig.StatusPending))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to expire %s", expired[i].ID)
		}
		expired[i].Status = multisig.StatusExpired
		expired[i].UpdatedAt = fromMillis(now)
	}

	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit expiry")
	}
	return expired, nil
}
