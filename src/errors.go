package main

import (
	"errors"
)

var (
	ERR_INVALID_CONFIG       error = errors.New("Invalid config")
	ERR_BAD_INPUT            error = errors.New("Can't open input")
	ERR_STREAM_ENDED         error = errors.New("Stream ended")
	ERR_INTERRUPTED_BY_USER  error = errors.New("Interrupted by user")
	ERR_BROKER_UNREACHABLE   error = errors.New("Can't reach MQTT broker")
	ERR_BAD_OUTPUT           error = errors.New("Can't write output")
)
