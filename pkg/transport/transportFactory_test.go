package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/notify-outbox/pkg/config"
)

func TestNewClientSMTP(t *testing.T) {
	cfg := config.TransportSettings{
		Type: "smtp",
		SMTP: config.SmtpSettings{
			Host: "localhost",
			Port: 1025,
			From: "events@example.com",
		},
	}

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.NoError(t, client.Close())
}

func TestNewClientUnsupportedType(t *testing.T) {
	client, err := NewClient(context.Background(), config.TransportSettings{Type: "telegraph"})
	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "unsupported transport type")
}
