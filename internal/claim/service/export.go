package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/internal/actor"
	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	claimexport "github.com/fieldbill/fieldbill/internal/claim/export"
)

// Export renders the claim in the requested format and stamps the
// export metadata. The first export of an approved claim moves it to
// exported; re-exports of later statuses re-render without a status
// change.
func (s *Service) Export(ctx context.Context, id snowflake.ID, req claimdomain.ExportRequest) (claimdomain.ExportArtifact, error) {
	who, ok := actor.FromContext(ctx)
	if !ok {
		return claimdomain.ExportArtifact{}, claimdomain.ErrMissingActor
	}

	renderer, err := claimexport.ForFormat(req.Format)
	if err != nil {
		return claimdomain.ExportArtifact{}, err
	}

	claim, err := s.loadClaim(ctx, id)
	if err != nil {
		return claimdomain.ExportArtifact{}, err
	}
	switch claim.Status {
	case claimdomain.StatusApproved, claimdomain.StatusExported,
		claimdomain.StatusPartiallyPaid, claimdomain.StatusPaid:
	default:
		return claimdomain.ExportArtifact{}, &claimdomain.TransitionError{
			ClaimID:   claim.ID,
			Current:   claim.Status,
			Requested: claimdomain.StatusExported,
		}
	}

	artifact, err := renderer.Render(*claim, s.cfg.Oracle)
	if err != nil {
		return claimdomain.ExportArtifact{}, err
	}

	now := s.clock.Now()
	firstExport := claim.Status == claimdomain.StatusApproved
	if firstExport {
		if err := claim.Transition(claimdomain.StatusExported); err != nil {
			return claimdomain.ExportArtifact{}, err
		}
	}
	claim.Oracle = claimdomain.OracleExport{
		ExportedAt:   &now,
		ExportedBy:   who.ID,
		ExportFormat: string(req.Format),
		ExportStatus: "exported",
		ExternalID:   req.ExternalID,
	}
	claim.AppendChange("claim.exported", who.ID, now, map[string]any{
		"format":   string(req.Format),
		"filename": artifact.Filename,
	})
	if err := s.save(ctx, claim, now); err != nil {
		return claimdomain.ExportArtifact{}, err
	}

	s.obsMetrics.RecordExport(ctx, string(req.Format))
	s.emitAudit(ctx, *claim, "claim.exported", map[string]any{
		"format": string(req.Format),
	})
	return artifact, nil
}
