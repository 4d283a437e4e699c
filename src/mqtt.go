package main

import (
	// stdlib
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	// internal
	"github.com/Robogera/handflow/pkg/config"
	"github.com/Robogera/handflow/pkg/indexed"
	"github.com/Robogera/handflow/pkg/synapse"

	// external
	mqtt "github.com/soypat/natiu-mqtt"
)

// Publishes every processed pair as a synapse command
func mqttclient(
	ctx context.Context,
	parent_logger *slog.Logger,
	cfg *config.ConfigFile,
	in_chan <-chan indexed.Indexed[*synapse.Message],
) error {

	logger := parent_logger.With("coroutine", "mqttclient")

	client := mqtt.NewClient(
		mqtt.ClientConfig{
			Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 2048)},
			OnPub: func(pubHead mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
				message, err := io.ReadAll(r)
				if err != nil {
					return err
				}
				logger.Debug("Recieved", "topic", string(varPub.TopicName), "message", string(message))
				return nil
			},
		})

	dial_timeout := time.Second * time.Duration(max(cfg.MQTT.ConnectTimeoutSec, 1))
	connection, err := net.DialTimeout("tcp", cfg.MQTT.Address, dial_timeout)
	if err != nil {
		logger.Error("Can't dial broker", "address", cfg.MQTT.Address, "error", err)
		return ERR_BROKER_UNREACHABLE
	}

	connection_ctx, cancel := context.WithTimeout(ctx, dial_timeout)
	defer cancel()
	vars := &mqtt.VariablesConnect{}
	vars.SetDefaultMQTT([]byte(cfg.MQTT.ClientID))
	if err := client.Connect(connection_ctx, connection, vars); err != nil {
		connection.Close()
		logger.Error("Can't connect to broker", "address", cfg.MQTT.Address, "error", err)
		return ERR_BROKER_UNREACHABLE
	}
	defer client.Disconnect(context.Canceled)

	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return err
	}
	publish_vars := mqtt.VariablesPublish{TopicName: []byte(cfg.MQTT.Topic)}

	logger.Info("Started", "address", cfg.MQTT.Address, "topic", cfg.MQTT.Topic)

	var sent uint64 = 0

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cancelled by context", "sent", sent)
			return context.Canceled
		case message := <-in_chan:
			command := synapse.Command{
				Id:      message.Id(),
				Sender:  cfg.MQTT.ClientID,
				Type:    "direction",
				Subject: message.Value().Text,
				Message: message.Value(),
			}
			payload, err := command.ToPayload()
			if err != nil {
				logger.Error("Can't marshal message", "frame", message.Id(), "error", err)
				continue
			}
			if !client.IsConnected() {
				logger.Error("Broker connection lost", "address", cfg.MQTT.Address)
				return ERR_BROKER_UNREACHABLE
			}
			if err := client.PublishPayload(flags, publish_vars, payload); err != nil {
				logger.Error("Can't publish", "topic", cfg.MQTT.Topic, "error", err)
				return err
			}
			sent++
		}
	}
}
