package httpadapter

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// The auth layer in front of the API authenticates the caller and forwards
// the result in these headers.
const (
	ownerIDHeader = "X-Owner-Id"
	adminHeader   = "X-Admin"
)

type principal struct {
	OwnerID string
	Admin   bool
}

func principalFromRequest(r *http.Request) (principal, error) {
	p := principal{OwnerID: strings.TrimSpace(r.Header.Get(ownerIDHeader))}
	if admin, err := strconv.ParseBool(strings.TrimSpace(r.Header.Get(adminHeader))); err == nil {
		p.Admin = admin
	}
	if p.OwnerID == "" && !p.Admin {
		return principal{}, domain.WrapError(domain.ErrUnauthorized, "resolve principal", errors.New("missing "+ownerIDHeader))
	}
	return p, nil
}

// scope resolves the partition the caller asked for. Admins may name any
// owner or none; everyone else is pinned to their own documents.
func (p principal) scope(ownerID, category string) (domain.Scope, error) {
	ownerID = strings.TrimSpace(ownerID)
	if p.Admin {
		return domain.Scope{OwnerID: ownerID, Category: category}.Normalize(), nil
	}
	if ownerID != "" && ownerID != p.OwnerID {
		return domain.Scope{}, domain.WrapError(domain.ErrForbidden, "resolve scope", errors.New("owner_id does not match caller"))
	}
	return domain.Scope{OwnerID: p.OwnerID, Category: category}.Normalize(), nil
}

// ownerFor fills or checks the owner of a record the caller is creating.
func (p principal) ownerFor(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	switch {
	case p.Admin && requested != "":
		return requested, nil
	case p.Admin:
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve owner", errors.New("owner_id is required"))
	case requested != "" && requested != p.OwnerID:
		return "", domain.WrapError(domain.ErrForbidden, "resolve owner", errors.New("owner_id does not match caller"))
	default:
		return p.OwnerID, nil
	}
}

func (p principal) canAccess(ownerID string) bool {
	return p.Admin || p.OwnerID == ownerID
}

func (p principal) requireAdmin() error {
	if !p.Admin {
		return domain.WrapError(domain.ErrForbidden, "admin endpoint", errors.New("admin principal required"))
	}
	return nil
}
