package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/client"
	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/internal/app/storage"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
)

// Store implements the storage interfaces backed by PostgreSQL.
//
// Both state-machine guards are pushed into SQL so they hold under
// concurrent submitters: duplicate seeds collide on the entry address
// primary key, and fulfillment is a conditional update on status='pending'.
type Store struct {
	db *sqlx.DB
}

var _ storage.RequestStore = (*Store)(nil)
var _ storage.ClientStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type entryRow struct {
	Address          []byte         `db:"address"`
	Seed             []byte         `db:"seed"`
	Requester        []byte         `db:"requester"`
	ClientID         string         `db:"client_id"`
	Status           string         `db:"status"`
	Randomness       []byte         `db:"randomness"`
	Callback         []byte         `db:"callback"`
	CallbackOverride bool           `db:"callback_override"`
	CallbackTx       sql.NullString `db:"callback_tx"`
	FulfilledAt      sql.NullTime   `db:"fulfilled_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// --- RequestStore -----------------------------------------------------------

func (s *Store) CreateEntry(ctx context.Context, e request.Entry) (request.Entry, error) {
	now := time.Now().UTC()
	e.Status = request.StatusPending
	e.Randomness = protocol.Randomness{}
	e.CreatedAt = now
	e.UpdatedAt = now

	callbackJSON, err := marshalCallback(e.Callback)
	if err != nil {
		return request.Entry{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rl_entries (address, seed, requester, client_id, status, callback, callback_override, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO NOTHING
	`, e.Address[:], e.Seed[:], e.Requester[:], e.ClientID, string(e.Status), callbackJSON, e.CallbackOverride, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return request.Entry{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return request.Entry{}, request.ErrDuplicateSeed
	}
	return e, nil
}

func (s *Store) GetEntry(ctx context.Context, addr protocol.Address) (request.Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT address, seed, requester, client_id, status, randomness, callback, callback_override, callback_tx, fulfilled_at, created_at, updated_at
		FROM rl_entries
		WHERE address = $1
	`, addr[:])
	if errors.Is(err, sql.ErrNoRows) {
		return request.Entry{}, request.ErrNotFound
	}
	if err != nil {
		return request.Entry{}, err
	}
	return rowToEntry(row)
}

func (s *Store) FulfillEntry(ctx context.Context, addr protocol.Address, randomness protocol.Randomness, status request.Status, callbackTx string, fulfilledAt time.Time) (request.Entry, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE rl_entries
		SET status = $2, randomness = $3, callback_tx = $4, fulfilled_at = $5, updated_at = $6
		WHERE address = $1 AND status = $7
	`, addr[:], string(status), randomness[:], nullString(callbackTx), fulfilledAt, now, string(request.StatusPending))
	if err != nil {
		return request.Entry{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// Distinguish a missing entry from one already past pending.
		if _, err := s.GetEntry(ctx, addr); errors.Is(err, request.ErrNotFound) {
			return request.Entry{}, request.ErrNotFound
		}
		return request.Entry{}, request.ErrNotPending
	}
	return s.GetEntry(ctx, addr)
}

func (s *Store) ListEntries(ctx context.Context, clientID string) ([]request.Entry, error) {
	return s.listEntries(ctx, `
		SELECT address, seed, requester, client_id, status, randomness, callback, callback_override, callback_tx, fulfilled_at, created_at, updated_at
		FROM rl_entries
		WHERE client_id = $1
		ORDER BY created_at DESC
	`, clientID)
}

func (s *Store) ListPendingEntries(ctx context.Context) ([]request.Entry, error) {
	return s.listEntries(ctx, `
		SELECT address, seed, requester, client_id, status, randomness, callback, callback_override, callback_tx, fulfilled_at, created_at, updated_at
		FROM rl_entries
		WHERE status = $1
		ORDER BY created_at
	`, string(request.StatusPending))
}

func (s *Store) listEntries(ctx context.Context, query string, args ...interface{}) ([]request.Entry, error) {
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	result := make([]request.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := rowToEntry(row)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// --- ClientStore ------------------------------------------------------------

type clientRow struct {
	ID             string    `db:"id"`
	Program        []byte    `db:"program"`
	State          []byte    `db:"state"`
	Owner          []byte    `db:"owner"`
	Callback       []byte    `db:"callback"`
	Balance        int64     `db:"balance"`
	RequestCounter int64     `db:"request_counter"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (s *Store) CreateClient(ctx context.Context, c client.Client) (client.Client, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	callbackJSON, err := marshalCallback(c.Callback)
	if err != nil {
		return client.Client{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rl_clients (id, program, state, owner, callback, balance, request_counter, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (program) DO NOTHING
	`, c.ID, c.Program[:], c.State[:], c.Owner[:], callbackJSON, int64(c.Balance), int64(c.RequestCounter), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return client.Client{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return client.Client{}, client.ErrAlreadyRegistered
	}
	return c, nil
}

func (s *Store) UpdateClient(ctx context.Context, c client.Client) (client.Client, error) {
	c.UpdatedAt = time.Now().UTC()

	callbackJSON, err := marshalCallback(c.Callback)
	if err != nil {
		return client.Client{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE rl_clients
		SET state = $2, owner = $3, callback = $4, balance = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, c.State[:], c.Owner[:], callbackJSON, int64(c.Balance), c.UpdatedAt)
	if err != nil {
		return client.Client{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return client.Client{}, client.ErrNotFound
	}
	return s.GetClient(ctx, c.ID)
}

func (s *Store) GetClient(ctx context.Context, id string) (client.Client, error) {
	var row clientRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, program, state, owner, callback, balance, request_counter, created_at, updated_at
		FROM rl_clients
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return client.Client{}, client.ErrNotFound
	}
	if err != nil {
		return client.Client{}, err
	}
	return rowToClient(row)
}

func (s *Store) GetClientByProgram(ctx context.Context, program protocol.Identity) (client.Client, error) {
	var row clientRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, program, state, owner, callback, balance, request_counter, created_at, updated_at
		FROM rl_clients
		WHERE program = $1
	`, program[:])
	if errors.Is(err, sql.ErrNoRows) {
		return client.Client{}, client.ErrNotFound
	}
	if err != nil {
		return client.Client{}, err
	}
	return rowToClient(row)
}

func (s *Store) ListClients(ctx context.Context) ([]client.Client, error) {
	var rows []clientRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, program, state, owner, callback, balance, request_counter, created_at, updated_at
		FROM rl_clients
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}

	result := make([]client.Client, 0, len(rows))
	for _, row := range rows {
		c, err := rowToClient(row)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

func (s *Store) NextRequestCounter(ctx context.Context, id string) (uint64, error) {
	var counter int64
	err := s.db.GetContext(ctx, &counter, `
		UPDATE rl_clients
		SET request_counter = request_counter + 1, updated_at = $2
		WHERE id = $1
		RETURNING request_counter
	`, id, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, client.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return uint64(counter), nil
}

// --- Row mapping ------------------------------------------------------------

func rowToEntry(row entryRow) (request.Entry, error) {
	var e request.Entry

	addr, err := addressFromBytes(row.Address)
	if err != nil {
		return request.Entry{}, err
	}
	e.Address = addr

	seed, err := protocol.SeedFromBytes(row.Seed)
	if err != nil {
		return request.Entry{}, err
	}
	e.Seed = seed

	copy(e.Requester[:], row.Requester)
	e.ClientID = row.ClientID
	e.Status = request.Status(row.Status)

	if len(row.Randomness) > 0 {
		randomness, err := protocol.RandomnessFromBytes(row.Randomness)
		if err != nil {
			return request.Entry{}, err
		}
		e.Randomness = randomness
	}

	cb, err := unmarshalCallback(row.Callback)
	if err != nil {
		return request.Entry{}, err
	}
	e.Callback = cb
	e.CallbackOverride = row.CallbackOverride
	if row.CallbackTx.Valid {
		e.CallbackTx = row.CallbackTx.String
	}
	if row.FulfilledAt.Valid {
		e.FulfilledAt = row.FulfilledAt.Time
	}
	e.CreatedAt = row.CreatedAt
	e.UpdatedAt = row.UpdatedAt
	return e, nil
}

func rowToClient(row clientRow) (client.Client, error) {
	var c client.Client
	c.ID = row.ID
	copy(c.Program[:], row.Program)
	copy(c.State[:], row.State)
	copy(c.Owner[:], row.Owner)

	cb, err := unmarshalCallback(row.Callback)
	if err != nil {
		return client.Client{}, err
	}
	c.Callback = cb
	c.Balance = uint64(row.Balance)
	c.RequestCounter = uint64(row.RequestCounter)
	c.CreatedAt = row.CreatedAt
	c.UpdatedAt = row.UpdatedAt
	return c, nil
}

func addressFromBytes(raw []byte) (protocol.Address, error) {
	if len(raw) != protocol.AddressSize {
		return protocol.Address{}, protocol.ErrMalformedPayload
	}
	var addr protocol.Address
	copy(addr[:], raw)
	return addr, nil
}

func marshalCallback(cb *request.CallbackDescriptor) ([]byte, error) {
	if cb == nil {
		return nil, nil
	}
	return json.Marshal(cb)
}

func unmarshalCallback(raw []byte) (*request.CallbackDescriptor, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var cb request.CallbackDescriptor
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, err
	}
	return &cb, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
