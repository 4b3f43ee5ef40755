package reporting

import (
	"context"
	"errors"
	"time"

	"waitercall-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Implementations must enforce business filtering.
// - Reporting reads the immutable call history; it never mutates.
//
// *calls.SQLStore and *calls.MemoryStore both satisfy this.

type Repository interface {
	ListByBusiness(ctx context.Context, businessID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if req.BusinessID == "" {
		return Summary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListByBusiness(ctx, req.BusinessID, req.Range.From, req.Range.To)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		BusinessID:    req.BusinessID,
		TableID:       req.TableID,
		CallsPerTable: map[string]int{},
	}

	var (
		ackSamples      int
		ackTotal        time.Duration
		completeSamples int
		completeTotal   time.Duration
	)

	for _, c := range rows {
		if req.TableID != "" && c.TableID != req.TableID {
			continue
		}
		out.TotalCalls++
		out.CallsPerTable[c.TableID]++
		if c.Urgency == calls.UrgencyHigh {
			out.UrgentCalls++
		}

		switch c.Status {
		case calls.CallStatusPending:
			out.PendingCalls++
		case calls.CallStatusAcknowledged:
			out.AcknowledgedCalls++
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		}

		if c.AcknowledgedAt != nil {
			ackSamples++
			ackTotal += c.AcknowledgedAt.Sub(c.CalledAt)
		}
		if c.CompletedAt != nil {
			completeSamples++
			completeTotal += c.CompletedAt.Sub(c.CalledAt)
		}
	}

	if ackSamples > 0 {
		out.AverageAckSeconds = int(ackTotal.Seconds()) / ackSamples
	}
	if completeSamples > 0 {
		out.AverageCompleteSeconds = int(completeTotal.Seconds()) / completeSamples
	}
	return out, nil
}
