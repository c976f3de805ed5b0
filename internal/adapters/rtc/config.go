package rtc

import (
	"fmt"

	"github.com/dkeye/Beam/internal/config"
	"github.com/dkeye/Beam/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFrom builds the ICE configuration: STUN servers first, then TURN
// servers sharing one set of credentials.
func ConfigFrom(cfg config.WebRTCConfig) webrtc.Configuration {
	if len(cfg.STUNServers) == 0 && len(cfg.TURNServers) == 0 {
		return DefaultWebRTCConfig()
	}
	var out webrtc.Configuration
	if len(cfg.STUNServers) > 0 {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}
	if len(cfg.TURNServers) > 0 {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:           cfg.TURNServers,
			Username:       cfg.TURNUsername,
			Credential:     cfg.TURNCredential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	if cfg.ForceRelay {
		out.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return out
}

// NewAPI returns a pion API with the default codecs and the default
// interceptors (NACK, RTCP reports, TWCC).
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

// NewFactory returns a core.MediaFactory creating one connection per peer.
func NewFactory(api *webrtc.API, cfg webrtc.Configuration) core.MediaFactory {
	return func(peer core.SessionID) (core.MediaConnection, error) {
		return NewWebRTCConnection(api, cfg, peer)
	}
}
