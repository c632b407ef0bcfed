package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/example/foodshare/internal/listing/domain"
)

type recordingConn struct {
	msgs []*nats.Msg
	err  error
}

func (r *recordingConn) PublishMsg(msg *nats.Msg) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestNATSPublisherWritesEvent(t *testing.T) {
	conn := &recordingConn{}
	p := &NATSPublisher{conn: conn, subject: "listing.events"}

	err := p.Publish(context.Background(), domain.Event{ListingID: "l-1", Type: domain.EventListingSoldOut})
	require.NoError(t, err)
	require.Len(t, conn.msgs, 1)
	msg := conn.msgs[0]
	require.Equal(t, "listing.events", msg.Subject)
	require.Equal(t, "ListingSoldOut", msg.Header.Get("x-event-type"))

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, "l-1", decoded.ListingID)
}

func TestNATSPublisherPropagatesErrors(t *testing.T) {
	conn := &recordingConn{err: errors.New("nats: connection closed")}
	p := &NATSPublisher{conn: conn, subject: "s"}
	require.Error(t, p.Publish(context.Background(), domain.Event{}))
}

func TestNATSPublisherWithoutConnection(t *testing.T) {
	p := NewNATSPublisher(nil, "s")
	require.NoError(t, p.Publish(context.Background(), domain.Event{}))
}
