package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
)

// resolveConnection returns the connection a campaign sends through this
// tick. Rotation campaigns go through the selector and fall back to their
// primary connection; ErrConnectionsCapped is returned as is so the caller
// can leave the items waiting.
func (s *Scheduler) resolveConnection(ctx context.Context, campaign *domain.Campaign) (*domain.ChannelConnection, error) {
	if len(campaign.ChannelIDs) > 0 && campaign.AntiBan.AccountRotation {
		conns, err := s.repo.GetConnections(ctx, campaign.ChannelIDs)
		if err != nil {
			return nil, fmt.Errorf("get connections: %w", err)
		}

		candidates := make([]*domain.ChannelConnection, 0, len(conns))
		for _, c := range conns {
			if s.usable(c) {
				candidates = append(candidates, c)
			}
		}

		conn, err := s.selector.Select(ctx, campaign, candidates)
		switch {
		case err == nil:
			return conn, nil
		case errors.Is(err, ErrConnectionsCapped):
			return nil, err
		case !errors.Is(err, ErrNoEligibleConnection):
			return nil, err
		}
	}

	if campaign.ChannelID == nil || *campaign.ChannelID == "" {
		return nil, ErrNoEligibleConnection
	}

	conn, err := s.repo.GetConnection(ctx, *campaign.ChannelID)
	if errors.Is(err, ErrConnectionNotFound) {
		return nil, ErrNoEligibleConnection
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	if !s.usable(conn) {
		return nil, ErrNoEligibleConnection
	}
	return conn, nil
}

func (s *Scheduler) usable(c *domain.ChannelConnection) bool {
	return c.IsActive() && s.senders.Supports(c.ChannelType)
}
