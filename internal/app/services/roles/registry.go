// Package roles assigns the single per-account role and maintains the admin
// set.
package roles

import (
	"context"
	"errors"
	"strings"

	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// Reader answers role questions for other components.
type Reader interface {
	GetRole(ctx context.Context, account string) (role.Role, error)
	HasRole(ctx context.Context, account string, r role.Role) (bool, error)
	IsAdmin(ctx context.Context, account string) (bool, error)
}

// Registry owns role assignments and the admin set.
type Registry struct {
	store  storage.RoleStore
	events notify.Recorder
	log    *logger.Logger
}

var _ Reader = (*Registry)(nil)

// New constructs a registry over store.
func New(store storage.RoleStore, events notify.Recorder, log *logger.Logger) *Registry {
	if events == nil {
		events = notify.Discard
	}
	if log == nil {
		log = logger.NewDefault("roles")
	}
	return &Registry{store: store, events: events, log: log}
}

func selectable(r role.Role) bool {
	return r == role.Supplier || r == role.Customer
}

func hasSelection(a role.Assignment) bool {
	return a.Selected || a.Flags.Has(role.Supplier) || a.Flags.Has(role.Customer)
}

// AssignInitialRole lets caller pick Supplier or Customer once.
func (r *Registry) AssignInitialRole(ctx context.Context, caller string, rl role.Role) error {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return apperrors.InvalidInput("caller is required")
	}
	if !selectable(rl) {
		return apperrors.InvalidInput("role %s cannot be self-selected", rl)
	}

	a, err := r.store.GetAssignment(ctx, caller)
	if err != nil {
		return err
	}
	if hasSelection(a) {
		return apperrors.AlreadyAssigned("account %s already selected role %s", caller, a.Role())
	}
	a.Flags = a.Flags.With(rl)
	a.Selected = true
	if err := r.store.PutAssignment(ctx, a); err != nil {
		return err
	}

	r.events.Record(notify.New(notify.RoleAssigned, caller, 0).
		With("account", caller).
		With("role", rl.String()))
	r.log.WithField("account", caller).WithField("role", rl.String()).Info("role selected")
	return nil
}

// AssignRole grants rl to account. Supplier and Customer require the account
// to hold neither; Admin requires the flag to be absent.
func (r *Registry) AssignRole(ctx context.Context, caller, account string, rl role.Role) error {
	if err := r.requireAdmin(ctx, caller); err != nil {
		return err
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return apperrors.InvalidInput("account is required")
	}
	if !rl.Valid() {
		return apperrors.InvalidInput("unknown role %s", rl)
	}

	a, err := r.store.GetAssignment(ctx, account)
	if err != nil {
		return err
	}
	if a.Flags.Has(rl) || (selectable(rl) && hasSelection(a)) {
		return apperrors.AlreadyAssigned("account %s already holds role %s", account, a.Role())
	}
	a.Flags = a.Flags.With(rl)
	if selectable(rl) {
		a.Selected = true
	}
	if err := r.store.PutAssignment(ctx, a); err != nil {
		return err
	}

	r.events.Record(notify.New(notify.RoleAssigned, caller, 0).
		With("account", account).
		With("role", rl.String()))
	r.log.WithField("account", account).
		WithField("role", rl.String()).
		WithField("admin", caller).
		Info("role assigned")
	return nil
}

// RemoveRole clears rl from account. Once no selectable role remains the
// account may select again.
func (r *Registry) RemoveRole(ctx context.Context, caller, account string, rl role.Role) error {
	if err := r.requireAdmin(ctx, caller); err != nil {
		return err
	}
	account = strings.TrimSpace(account)
	a, err := r.store.GetAssignment(ctx, account)
	if err != nil {
		return err
	}
	if !a.Flags.Has(rl) {
		return apperrors.NotFound("account %s does not hold role %s", account, rl)
	}
	a.Flags = a.Flags.Without(rl)
	if !a.Flags.Has(role.Supplier) && !a.Flags.Has(role.Customer) {
		a.Selected = false
	}
	if err := r.store.PutAssignment(ctx, a); err != nil {
		return err
	}

	r.events.Record(notify.New(notify.RoleRemoved, caller, 0).
		With("account", account).
		With("role", rl.String()))
	r.log.WithField("account", account).
		WithField("role", rl.String()).
		WithField("admin", caller).
		Info("role removed")
	return nil
}

// AddAdmin adds account to the admin set and grants the Admin flag.
func (r *Registry) AddAdmin(ctx context.Context, caller, account string) error {
	if err := r.requireAdmin(ctx, caller); err != nil {
		return err
	}
	return r.addAdmin(ctx, caller, account)
}

func (r *Registry) addAdmin(ctx context.Context, caller, account string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return apperrors.InvalidInput("account is required")
	}
	member, err := r.store.IsAdmin(ctx, account)
	if err != nil {
		return err
	}
	if member {
		return apperrors.AlreadyAssigned("account %s is already an admin", account)
	}
	if err := r.store.AddAdmin(ctx, account); err != nil {
		return err
	}
	a, err := r.store.GetAssignment(ctx, account)
	if err != nil {
		return err
	}
	a.Flags = a.Flags.With(role.Admin)
	if err := r.store.PutAssignment(ctx, a); err != nil {
		return err
	}

	r.events.Record(notify.New(notify.AdminChanged, caller, 0).
		With("account", account).
		With("action", "added"))
	r.log.WithField("account", account).WithField("admin", caller).Info("admin added")
	return nil
}

// RemoveAdmin drops account from the admin set and clears the Admin flag.
func (r *Registry) RemoveAdmin(ctx context.Context, caller, account string) error {
	if err := r.requireAdmin(ctx, caller); err != nil {
		return err
	}
	account = strings.TrimSpace(account)
	if account == caller {
		return apperrors.InvalidInput("admins cannot remove themselves")
	}
	if err := r.store.RemoveAdmin(ctx, account); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NotFound("account %s is not an admin", account)
		}
		return err
	}
	a, err := r.store.GetAssignment(ctx, account)
	if err != nil {
		return err
	}
	a.Flags = a.Flags.Without(role.Admin)
	if err := r.store.PutAssignment(ctx, a); err != nil {
		return err
	}

	r.events.Record(notify.New(notify.AdminChanged, caller, 0).
		With("account", account).
		With("action", "removed"))
	r.log.WithField("account", account).WithField("admin", caller).Info("admin removed")
	return nil
}

// Bootstrap seeds the admin set while it is still empty and returns the
// accounts added.
func (r *Registry) Bootstrap(ctx context.Context, accounts ...string) ([]string, error) {
	existing, err := r.store.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, nil
	}
	var added []string
	seen := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		account = strings.TrimSpace(account)
		if account == "" {
			continue
		}
		if _, dup := seen[account]; dup {
			continue
		}
		seen[account] = struct{}{}
		if err := r.addAdmin(ctx, "bootstrap", account); err != nil {
			return nil, err
		}
		added = append(added, account)
	}
	return added, nil
}

// GetRole returns the effective role, applying Admin > Supplier > Customer.
func (r *Registry) GetRole(ctx context.Context, account string) (role.Role, error) {
	a, err := r.store.GetAssignment(ctx, account)
	if err != nil {
		return role.None, err
	}
	return a.Role(), nil
}

// HasRole reports whether account holds the rl flag.
func (r *Registry) HasRole(ctx context.Context, account string, rl role.Role) (bool, error) {
	a, err := r.store.GetAssignment(ctx, account)
	if err != nil {
		return false, err
	}
	return a.Flags.Has(rl), nil
}

// IsAdmin reports admin-set membership or the Admin flag.
func (r *Registry) IsAdmin(ctx context.Context, account string) (bool, error) {
	if strings.TrimSpace(account) == "" {
		return false, nil
	}
	member, err := r.store.IsAdmin(ctx, account)
	if err != nil || member {
		return member, err
	}
	return r.HasRole(ctx, account, role.Admin)
}

// Admins lists the admin set.
func (r *Registry) Admins(ctx context.Context) ([]string, error) {
	return r.store.ListAdmins(ctx)
}

func (r *Registry) requireAdmin(ctx context.Context, caller string) error {
	ok, err := r.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotAuthorized("account %s is not an admin", caller)
	}
	return nil
}
