package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"staybook/internal/database"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

const maxAvailabilityDays = 366

// LedgerService answers availability questions and manages manual blocks.
type LedgerService struct {
	db     *database.DB
	logger zerolog.Logger
}

func NewLedgerService(db *database.DB, logger *zerolog.Logger) *LedgerService {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "ledger").Logger()
	}
	return &LedgerService{db: db, logger: l}
}

// Availability returns one entry per night in [from, to).
func (s *LedgerService) Availability(ctx context.Context, unitID int64, from, to time.Time) ([]models.DayAvailability, error) {
	if !from.Before(to) {
		return nil, invalid("to", "must be after from")
	}
	if to.Sub(from) > maxAvailabilityDays*24*time.Hour {
		return nil, invalid("to", fmt.Sprintf("range is limited to %d days", maxAvailabilityDays))
	}

	blocks, err := s.db.Store().ListBlocks(ctx, database.BlockFilter{
		UnitID:   unitID,
		From:     from,
		To:       to,
		Statuses: []string{models.BlockStatusActive},
	})
	if err != nil {
		return nil, err
	}

	var days []models.DayAvailability
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		day := models.DayAvailability{Date: d.Format(models.DateLayout), Available: true}
		for _, b := range blocks {
			if b.Overlaps(d, d.AddDate(0, 0, 1)) {
				day.Available = false
				day.BlockID = b.ID
				break
			}
		}
		days = append(days, day)
	}
	return days, nil
}

type BlockInput struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Status    string `json:"status" validate:"omitempty,oneof=active blocked"`
	Reason    string `json:"reason" validate:"max=500"`
}

type BulkBlockRequest struct {
	Blocks []BlockInput `json:"blocks" validate:"required,min=1,max=100,dive"`
}

type BulkBlockResult struct {
	Blocks       []*models.AvailabilityBlock `json:"blocks"`
	Deduplicated bool                        `json:"deduplicated"`
}

// CreateManualBlocks writes every block or none. A repeated idempotency key
// with the same request hash replays the stored result.
func (s *LedgerService) CreateManualBlocks(ctx context.Context, tenantID string, unitID int64, idemKey, requestHash string, req BulkBlockRequest) (*BulkBlockResult, error) {
	if unitID <= 0 {
		return nil, invalid("unit_id", "must be > 0")
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	blocks := make([]*models.AvailabilityBlock, 0, len(req.Blocks))
	for i, in := range req.Blocks {
		start, _ := time.Parse(models.DateLayout, in.StartDate)
		end, _ := time.Parse(models.DateLayout, in.EndDate)
		if !start.Before(end) {
			return nil, invalid(fmt.Sprintf("blocks[%d].end_date", i), "must be after start_date")
		}
		status := in.Status
		if status == "" {
			status = models.BlockStatusActive
		}
		blocks = append(blocks, &models.AvailabilityBlock{
			TenantID:  tenantID,
			UnitID:    unitID,
			StartDate: start,
			EndDate:   end,
			Kind:      models.BlockKindManual,
			Status:    status,
			Reason:    in.Reason,
		})
	}

	var result BulkBlockResult
	err := s.db.WithTx(ctx, func(st *database.Store) error {
		if idemKey != "" {
			rec, err := st.GetIdempotencyRecord(ctx, tenantID, idemKey)
			switch {
			case err == nil:
				if rec.RequestHash != requestHash {
					return ErrIdempotencyMismatch
				}
				if err := json.Unmarshal([]byte(rec.ResponseBody), &result); err != nil {
					return fmt.Errorf("decode stored response: %w", err)
				}
				result.Deduplicated = true
				return nil
			case !errors.Is(err, database.ErrNotFound):
				return err
			}
		}

		for _, b := range blocks {
			// blocked entries never take part in overlap checks
			if b.Status == models.BlockStatusActive {
				if err := checkOverlap(ctx, st, unitID, b.StartDate, b.EndDate, 0); err != nil {
					return err
				}
			}
			if err := st.CreateBlock(ctx, b); err != nil {
				return err
			}
		}
		result.Blocks = blocks

		if err := appendEvent(ctx, st, tenantID, models.TopicInventory, models.EventBlocksCreated, unitID, result); err != nil {
			return err
		}

		if idemKey == "" {
			return nil
		}
		body, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return st.SaveIdempotencyRecord(ctx, &models.IdempotencyRecord{
			TenantID:     tenantID,
			Key:          idemKey,
			RequestHash:  requestHash,
			StatusCode:   201,
			ResponseBody: string(body),
		})
	})
	if err != nil {
		return nil, err
	}

	if !result.Deduplicated {
		s.logger.Info().Int64("unit_id", unitID).Int("blocks", len(result.Blocks)).Msg("manual blocks created")
	}
	return &result, nil
}

// DeleteBlock removes a manual block. Booking entries follow their booking.
func (s *LedgerService) DeleteBlock(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(st *database.Store) error {
		b, err := st.GetBlock(ctx, id)
		if err != nil {
			return err
		}
		if b.Kind != models.BlockKindManual {
			return ErrNotManualBlock
		}
		return st.DeleteBlock(ctx, id)
	})
}
