package handlers

import (
	"github.com/gofiber/websocket/v2"

	"github.com/fluxytools/chatai/internal/catalog"
	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/notify"
	"github.com/fluxytools/chatai/internal/services"
)

// ModelsEvent is pushed to model pickers on connect and on every
// credential change
type ModelsEvent struct {
	Type     string                   `json:"type"`
	Models   []models.ModelDescriptor `json:"models"`
	Selected string                   `json:"selected"`
	Hint     string                   `json:"hint,omitempty"`
}

func modelsEvent(svc *services.Services) ModelsEvent {
	return ModelsEvent{
		Type:     "models",
		Models:   catalog.Usable(svc.Credentials),
		Selected: svc.Chat.SelectedModel(),
		Hint:     modelsHint(svc.Credentials),
	}
}

// ModelEvents streams the usable model list over a websocket
func ModelEvents(svc *services.Services) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		sub := svc.Hub.Subscribe(notify.TopicCredentialsChanged)
		defer sub.Cancel()

		log := svc.Logger.WithField("remote", c.RemoteAddr().String())

		if err := c.WriteJSON(modelsEvent(svc)); err != nil {
			log.WithError(err).Debug("Model event client went away")
			return
		}

		// Reads only detect the client closing the socket
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case _, ok := <-sub.C:
				if !ok {
					return
				}
				// Let the controller drop a selection whose key went away
				// before the list is pushed.
				svc.Chat.RevalidateModel()
				if err := c.WriteJSON(modelsEvent(svc)); err != nil {
					log.WithError(err).Debug("Model event client went away")
					return
				}
			}
		}
	}
}
