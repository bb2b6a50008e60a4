package routes

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/broker"
	"github.com/schoolrun/schoolrun/pkg/channel"
)

func channelUpgradeCheck(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}

	return fiber.ErrUpgradeRequired
}

// channelHandler bridges a websocket connection onto a broker session. The
// writer goroutine drains the session buffer; the read loop only ever sees
// heartbeats and malformed frames, as all publishing happens over REST.
func channelHandler(liveBroker *broker.Broker) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		tripID := conn.Params("identifier")
		token := conn.Query("token")

		session, err := liveBroker.Subscribe(tripID, token)
		if err != nil {
			var authError *broker.AuthError
			var notFoundError *broker.NotFoundError

			closeCode := websocket.CloseInternalServerErr
			switch {
			case errors.As(err, &authError):
				closeCode = websocket.ClosePolicyViolation
			case errors.As(err, &notFoundError):
				closeCode = websocket.CloseNormalClosure
			}

			conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(closeCode, err.Error()),
			)
			conn.Close()
			return
		}
		defer liveBroker.Unsubscribe(session)

		go func() {
			for message := range session.Messages() {
				if err := conn.WriteMessage(websocket.TextMessage, message.Encode()); err != nil {
					break
				}
			}

			// Session buffer closed (trip ended or heartbeat expiry) or the
			// write failed. Either way the socket is done.
			conn.Close()
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}

			message, err := channel.Decode(raw)
			if err != nil {
				log.Debug().Err(err).Str("trip", tripID).Msg("Ignoring malformed channel frame")
				continue
			}

			if message.Type == channel.MessageTypePing {
				liveBroker.Heartbeat(session)
			}
		}
	})
}
