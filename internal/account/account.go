// Package account carries the acting account explicitly through every store call.
package account

import (
	"strings"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/pkg/errors"
)

var ErrMissingAccount = errors.New("account id is required")

// Context identifies the acting account. Emitter is the account's own fiscal identity,
// used as the emitter of pre-invoices and waybills.
type Context struct {
	AccountID string
	UserID    string
	Emitter   models.FiscalParty
}

func New(accountID string) (Context, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Context{}, ErrMissingAccount
	}
	return Context{AccountID: accountID}, nil
}

func (c Context) Validate() error {
	if strings.TrimSpace(c.AccountID) == "" {
		return ErrMissingAccount
	}
	return nil
}

func (c Context) WithEmitter(p models.FiscalParty) Context {
	c.Emitter = p
	return c
}
