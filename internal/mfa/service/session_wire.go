package service

import (
	"encoding/json"
	"fmt"

	"github.com/curtismu7/mfa-console/internal/mfa/domain"
)

// sessionWire is the provider's session representation. Action links
// arrive HAL-style under _links; devices either inline or embedded.
type sessionWire struct {
	ID             string                    `json:"id"`
	Status         string                    `json:"status"`
	NextStep       string                    `json:"nextStep"`
	SelectedDevice *idRef                    `json:"selectedDevice"`
	Challenge      *idRef                    `json:"challenge"`
	Devices        []domain.DeviceDescriptor `json:"devices"`
	Embedded       *struct {
		Devices []domain.DeviceDescriptor `json:"devices"`
	} `json:"_embedded"`
	Links map[string]linkRef `json:"_links"`
}

type idRef struct {
	ID string `json:"id"`
}

type linkRef struct {
	Href string `json:"href"`
}

// parseSession maps a server response body onto a Session. The link set
// is carried over key for key: nothing is invented and nothing dropped,
// it is the sole source of legal next operations.
func parseSession(body []byte) (*domain.Session, error) {
	var wire sessionWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}

	session := &domain.Session{
		ID:       wire.ID,
		Status:   domain.SessionStatus(wire.Status),
		NextStep: wire.NextStep,
		Devices:  wire.Devices,
	}
	if len(session.Devices) == 0 && wire.Embedded != nil {
		session.Devices = wire.Embedded.Devices
	}
	if wire.SelectedDevice != nil {
		session.SelectedDeviceID = wire.SelectedDevice.ID
	}
	if wire.Challenge != nil {
		session.ChallengeID = wire.Challenge.ID
	}
	if len(wire.Links) > 0 {
		session.Links = make(domain.ActionLinks, len(wire.Links))
		for name, ref := range wire.Links {
			session.Links[domain.Action(name)] = ref.Href
		}
	}
	return session, nil
}
