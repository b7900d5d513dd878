package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Build creates every configured channel in a fixed order: local file,
// mattermost, s3, websocket. Disabled channels are included so they show up in
// listings; a channel that cannot be constructed is logged and left out.
func Build(ctx context.Context, cfg ChannelsConfig) []Channel {
	channels := []Channel{
		NewLocalFile(cfg.LocalFile),
		NewMattermost(cfg.Mattermost),
	}

	s3ch, err := NewS3(ctx, cfg.S3)
	if err != nil {
		log.Error().Err(err).Msg("s3: channel unavailable")
	} else {
		channels = append(channels, s3ch)
	}

	channels = append(channels, NewWebSocket(cfg.WebSocket))
	return channels
}
