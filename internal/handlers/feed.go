package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"taskboard-backend/internal/common"
	"taskboard-backend/internal/events"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func init() {
	// Allow all origins
	wsUpgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
}

// CreateAdminFeedHandler streams invitation lifecycle events to the admin
// dashboard over a websocket. Fan-out happens through redis so every
// instance sees events regardless of which one handled the mutation.
// Admin access is enforced by the route middleware.
func CreateAdminFeedHandler(server *common.ServerState) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer ws.Close()

		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()

		pubsub := server.Redis.Subscribe(ctx, events.AdminChannel)
		defer func() {
			pubsub.Close()
			cancel()
		}()

		hello, err := events.New(events.EventTypeSuccess, events.SuccessPayload{
			Message: "Connected to invitation feed",
		})
		if err != nil {
			c.Logger().Error(err)
			return err
		}
		helloJSON, _ := json.Marshal(hello)
		if err := ws.WriteMessage(websocket.TextMessage, helloJSON); err != nil {
			c.Logger().Errorf("Error writing initial websocket message: %v", err)
			return err
		}

		done := make(chan struct{})

		// Websocket read loop: only keep-alives come from the client.
		go func() {
			defer func() {
				close(done)
				cancel()
			}()
			for {
				messageType, msg, err := ws.ReadMessage()
				if err != nil {
					if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
						c.Logger().Debug("WebSocket connection closed normally")
					} else {
						c.Logger().Error("WebSocket read error: ", err)
					}
					return
				}

				if messageType != websocket.TextMessage {
					c.Logger().Warn("Received non-text message on feed")
					continue
				}

				evt, err := events.Parse(msg)
				if err != nil {
					sendFeedError(ws, err.Error())
					continue
				}

				switch evt.Type {
				case events.EventTypePing:
					pong, err := events.New(events.EventTypePong, nil)
					if err != nil {
						c.Logger().Error(err)
						return
					}
					pongJSON, _ := json.Marshal(pong)
					if err := ws.WriteMessage(websocket.TextMessage, pongJSON); err != nil {
						c.Logger().Error(err)
						return
					}
				default:
					c.Logger().Warn("Unexpected message type on feed: ", evt.Type)
				}
			}
		}()

		// Redis message loop: forward lifecycle events as-is.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case <-done:
					return
				default:
					msg, err := pubsub.ReceiveMessage(ctx)
					if err != nil {
						select {
						case <-ctx.Done():
							return
						default:
							if err != redis.ErrClosed && err.Error() != "use of closed network connection" {
								c.Logger().Error("Unexpected Redis error: ", err)
							}
							return
						}
					}

					if _, err := events.Parse([]byte(msg.Payload)); err != nil {
						c.Logger().Error(err)
						continue
					}

					if err := ws.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
						c.Logger().Error(err)
						return
					}
				}
			}
		}()

		<-done
		return nil
	}
}

func sendFeedError(ws *websocket.Conn, message string) {
	evt, err := events.New(events.EventTypeError, events.ErrorPayload{Error: message})
	if err != nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, payload)
}
