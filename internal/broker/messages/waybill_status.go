package messages

import (
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
)

const TopicWaybillStatus = "waybill.status"

// WaybillStatusChanged is reported by the fiscal renderer after it issues or cancels a draft.
type WaybillStatusChanged struct {
	AccountID      string             `json:"account_id"`
	WaybillDraftID string             `json:"waybill_draft_id"`
	Status         models.DraftStatus `json:"status"`
	FiscalFolio    *string            `json:"fiscal_folio,omitempty"`
	ChangedAt      time.Time          `json:"changed_at"`

	Error *string `json:"error,omitempty"`
}
