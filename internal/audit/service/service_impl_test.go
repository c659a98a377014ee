package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/internal/actor"
	auditdomain "github.com/fieldbill/fieldbill/internal/audit/domain"
	"github.com/fieldbill/fieldbill/internal/audit/repository"
	"github.com/fieldbill/fieldbill/internal/clock"
	"github.com/fieldbill/fieldbill/pkg/db/pagination"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAuditService(t *testing.T) (auditdomain.Service, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	dbConn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    dbConn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(),
	})
	return svc, node, fake
}

func TestAuditLogCapturesActor(t *testing.T) {
	svc, node, fake := newAuditService(t)
	companyID := node.Generate()

	ctx := actor.WithActor(context.Background(), actor.Actor{
		ID:   "user-pm",
		Role: actor.RolePM,
	})
	require.NoError(t, svc.AuditLog(ctx, companyID, "claim.created", "claim", "42", map[string]any{
		"claim_number": "CLM-2026-00001-007",
	}))

	resp, err := svc.List(context.Background(), companyID, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "claim.created", entry.Action)
	assert.Equal(t, "user-pm", entry.ActorID)
	assert.Equal(t, "pm", entry.ActorRole)
	assert.Equal(t, "claim", entry.TargetType)
	assert.Equal(t, "CLM-2026-00001-007", entry.Metadata["claim_number"])
	assert.True(t, entry.CreatedAt.Equal(fake.Now()))
}

func TestAuditLogValidation(t *testing.T) {
	svc, node, _ := newAuditService(t)

	err := svc.AuditLog(context.Background(), node.Generate(), "  ", "claim", "1", nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	err = svc.AuditLog(context.Background(), 0, "claim.created", "claim", "1", nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidCompany)
}

func TestListPaginates(t *testing.T) {
	svc, node, fake := newAuditService(t)
	companyID := node.Generate()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AuditLog(context.Background(), companyID, "unit_entry.created", "unit_entry", "", nil))
		fake.Advance(time.Second)
	}

	first, err := svc.List(context.Background(), companyID, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 2)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(context.Background(), companyID, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 2)

	_, err = svc.List(context.Background(), companyID, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "not-a-token"},
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
