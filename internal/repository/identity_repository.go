package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rpattn/lexsign/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// identityRepository reads the identities table. The table is populated by the
// authentication system; this service never writes to it.
type identityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepository{pool: pool}
}

// Lookup resolves an identity by ID
func (r *identityRepository) Lookup(ctx context.Context, id uuid.UUID) (domain.Identity, error) {
	identity, err := scanIdentity(r.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, role FROM identities WHERE id = $1`, id))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity %s: %w", id, err)
	}
	return identity, nil
}

// LookupByEmail resolves an identity by email, case-insensitively
func (r *identityRepository) LookupByEmail(ctx context.Context, email string) (domain.Identity, error) {
	identity, err := scanIdentity(r.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, role FROM identities WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email)))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity %s: %w", email, err)
	}
	return identity, nil
}

func scanIdentity(row pgx.Row) (domain.Identity, error) {
	var (
		identity  domain.Identity
		firstName string
		lastName  string
		role      string
	)
	if err := row.Scan(&identity.ID, &identity.Email, &firstName, &lastName, &role); err != nil {
		return domain.Identity{}, classify("scan identity", err)
	}
	identity.Name = strings.TrimSpace(firstName + " " + lastName)
	identity.Role = domain.ParseAccountRole(role)
	return identity, nil
}

// MemoryDirectory is an in-process IdentityRepository.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]domain.Identity
	byEmail map[string]uuid.UUID
}

// NewMemoryDirectory seeds a directory with identities.
func NewMemoryDirectory(identities ...domain.Identity) *MemoryDirectory {
	d := &MemoryDirectory{
		byID:    make(map[uuid.UUID]domain.Identity),
		byEmail: make(map[string]uuid.UUID),
	}
	for _, identity := range identities {
		d.Put(identity)
	}
	return d
}

// Put adds or replaces an identity.
func (d *MemoryDirectory) Put(identity domain.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if previous, ok := d.byID[identity.ID]; ok {
		delete(d.byEmail, strings.ToLower(previous.Email))
	}
	d.byID[identity.ID] = identity
	if identity.Email != "" {
		d.byEmail[strings.ToLower(identity.Email)] = identity.ID
	}
}

func (d *MemoryDirectory) Lookup(ctx context.Context, id uuid.UUID) (domain.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.byID[id]
	if !ok {
		return domain.Identity{}, fmt.Errorf("identity %s: %w", id, domain.ErrNotFound)
	}
	return identity, nil
}

func (d *MemoryDirectory) LookupByEmail(ctx context.Context, email string) (domain.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.Identity{}, fmt.Errorf("identity %s: %w", email, domain.ErrNotFound)
	}
	return d.byID[id], nil
}
