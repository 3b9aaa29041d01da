package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const natsRelaySubject = "epitrello.relay"

// natsEnvelope wraps a relay frame for other instances. Frame stays []byte
// so the bytes reach remote subscribers untouched.
type natsEnvelope struct {
	Origin  string `json:"origin"`
	BoardID string `json:"boardId"`
	Frame   []byte `json:"frame"`
}

// natsPeer links the hubs of several instances through one NATS subject.
type natsPeer struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	origin string
	hub    *Hub
	log    *slog.Logger
}

func connectNATSPeer(url string, hub *Hub, log *slog.Logger) (*natsPeer, error) {
	p := &natsPeer{origin: uuid.NewString(), hub: hub, log: log}
	nc, err := nats.Connect(url,
		nats.Name("epitrello-relay-"+p.origin),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p.nc = nc
	p.sub, err = nc.Subscribe(natsRelaySubject, func(m *nats.Msg) { p.receive(m.Data) })
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", natsRelaySubject, err)
	}
	return p, nil
}

func (p *natsPeer) Publish(boardID string, msg []byte) error {
	data, err := json.Marshal(natsEnvelope{Origin: p.origin, BoardID: boardID, Frame: msg})
	if err != nil {
		return err
	}
	return p.nc.Publish(natsRelaySubject, data)
}

// receive delivers frames published by other instances; our own come back
// on the subject too and are skipped.
func (p *natsPeer) receive(data []byte) {
	var env natsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		p.log.Debug("nats: bad envelope", "err", err)
		return
	}
	if env.Origin == p.origin || env.BoardID == "" {
		return
	}
	p.hub.Deliver(env.BoardID, env.Frame)
}

func (p *natsPeer) Close() error {
	if p.sub != nil {
		_ = p.sub.Unsubscribe()
	}
	return p.nc.Drain()
}
