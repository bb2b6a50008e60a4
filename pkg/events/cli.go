package events

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/consumer"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/notify"
	"github.com/schoolrun/schoolrun/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Provides the attendance events runner",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run attendance events server",
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					pushManager := &notify.PushManager{}
					if err := pushManager.Setup(); err != nil {
						log.Error().Err(err).Msg("Push notifications unavailable")
						pushManager = nil
					}

					redisConsumer := consumer.RedisConsumer{
						QueueName:       AttendanceQueueName,
						NumberConsumers: 5,
						BatchSize:       20,
						Timeout:         2 * time.Second,
						Consumer:        NewBatchConsumer(0, pushManager),
					}
					redisConsumer.Setup()

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					<-redis_client.QueueConnection.StopAllConsuming() // wait for all Consume() calls to finish

					return nil
				},
			},
			{
				Name:  "test-event",
				Usage: "generate a test attendance event",
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					input := AttendanceInput{
						TripID:    "TRIP:TEST:MORNING",
						StudentID: "STUDENT:TEST",
						EventType: "checkin",

						RecordedAt: time.Now(),
					}

					attendanceQueue, err := redis_client.QueueConnection.OpenQueue(AttendanceQueueName)
					if err != nil {
						log.Fatal().Err(err).Msg("Failed to open attendance queue")
					}

					pretty.Println(input)

					payload, _ := encodeInput(input)
					if err := attendanceQueue.PublishBytes(payload); err != nil {
						log.Fatal().Err(err).Msg("Failed to publish test event")
					}

					return nil
				},
			},
		},
	}
}
