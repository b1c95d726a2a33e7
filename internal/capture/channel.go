package capture

import (
	"time"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

const (
	ChannelGDN     = "gdn"
	ChannelYouTube = "youtube"
	ChannelMeta    = "meta"
	ChannelNaver   = "naver"
)

// Channel is the per-network capture behaviour.
type Channel struct {
	Name string
	// FullPage selects a full-page placement screenshot instead of the viewport.
	FullPage bool
	// Settle is the wait after load before lazy-load forcing starts.
	Settle    time.Duration
	Supported bool
}

var channels = map[string]Channel{
	ChannelGDN:     {Name: ChannelGDN, Settle: 4 * time.Second, Supported: true},
	ChannelYouTube: {Name: ChannelYouTube},
	ChannelMeta:    {Name: ChannelMeta},
	ChannelNaver:   {Name: ChannelNaver},
}

// LookupChannel returns the named channel, or a VALIDATION error when it is
// unknown or not yet supported.
func LookupChannel(name string) (Channel, error) {
	ch, ok := channels[name]
	if !ok {
		return Channel{}, cdpcontrol.NewError(cdpcontrol.CodeValidation, "unknown channel "+name, nil)
	}
	if !ch.Supported {
		return Channel{}, cdpcontrol.NewError(cdpcontrol.CodeValidation, "channel not supported: "+name, nil)
	}
	return ch, nil
}
