// Copyright 2024-2026 Aiku AI

package reconcile

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

// CleanupReport aggregates a bulk cleanup. Total is the number of members
// that held the playing role; Removed + Failed + Skipped == Total unless
// listing the members failed.
type CleanupReport struct {
	Total   int   `json:"total"`
	Removed int   `json:"removed"`
	Failed  int   `json:"failed"`
	Skipped int   `json:"skipped"`
	ListErr error `json:"-"`
}

// Complete reports whether every member lost the playing role.
func (r CleanupReport) Complete() bool {
	return r.ListErr == nil && r.Removed == r.Total
}

// LifecycleResult describes what ServerLifecycle did.
type LifecycleResult struct {
	Status       bridge.ServerStatus
	Announcement string
	AnnounceErr  error
	// Cleanup is set when the server reported it is stopping.
	Cleanup *CleanupReport
}

// ServerLifecycle announces a server status change. A stopping server also
// triggers BulkCleanup, whether or not the announcement was delivered.
func (e *Engine) ServerLifecycle(ctx context.Context, ev bridge.ServerLifecycleEvent) (LifecycleResult, error) {
	res := LifecycleResult{Status: ev.Status}
	if err := ev.Validate(); err != nil {
		e.metrics.ObserveEvent(bridge.EventServerLifecycle, err)
		return res, err
	}
	res.Announcement = lifecycleAnnouncement(ev.Status, ev.Message)
	if res.AnnounceErr = e.announce(ctx, res.Announcement); res.AnnounceErr != nil {
		e.log.Warn().Err(res.AnnounceErr).Str("status", string(ev.Status)).Msg("Failed to announce server status")
	}
	if ev.Status == bridge.StatusStopping {
		report := e.BulkCleanup(ctx)
		res.Cleanup = &report
	}
	e.metrics.ObserveEvent(bridge.EventServerLifecycle, res.AnnounceErr)
	return res, nil
}

// BulkCleanup revokes the playing role from every member the platform
// reports as holding it. Failures are counted, never fatal. Each revocation
// runs to completion even if ctx is cancelled; once ctx is done no new
// revocation starts and the remaining members are counted as skipped.
func (e *Engine) BulkCleanup(ctx context.Context) CleanupReport {
	var report CleanupReport
	defer e.clearPlaying()

	var members []*bridge.Member
	err := e.call(ctx, func(ctx context.Context) (err error) {
		members, err = e.platform.MembersWithRole(ctx, e.cfg.PlayingRoleID)
		return err
	})
	if err != nil {
		report.ListErr = err
		e.log.Err(err).Str("role_id", e.cfg.PlayingRoleID).Msg("Failed to list members with the playing role")
		return report
	}
	report.Total = len(members)

	var removed, failed, skipped atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.cfg.CleanupConcurrency)
	for _, member := range members {
		if ctx.Err() != nil {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			err := e.revoke(context.WithoutCancel(ctx), member, e.cfg.PlayingRoleID)
			switch {
			case err == nil, errors.Is(err, bridge.ErrAlreadyAbsent):
				removed.Add(1)
			default:
				failed.Add(1)
				e.log.Warn().Err(err).Str("platform_id", member.ID).Msg("Failed to remove playing role during cleanup")
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Removed = int(removed.Load())
	report.Failed = int(failed.Load())
	report.Skipped = int(skipped.Load())
	e.metrics.ObserveCleanup(report.Removed, report.Failed, report.Skipped)
	e.log.Info().
		Int("total", report.Total).
		Int("removed", report.Removed).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("Finished playing role cleanup")
	return report
}
