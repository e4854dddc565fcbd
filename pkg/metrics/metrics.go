// Copyright 2024-2026 Aiku AI

// Package metrics exposes the Prometheus collectors of the bridge. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aiku/mattermost-gamebridge/pkg/bridge"
)

const namespace = "gamebridge"

// Metrics groups the bridge collectors.
type Metrics struct {
	events       *prometheus.CounterVec
	roleOps      *prometheus.CounterVec
	relayed      *prometheus.CounterVec
	cleanupTotal *prometheus.CounterVec
	playing      prometheus.Gauge
}

// MustNew registers the collectors on reg, or on the default registerer when
// reg is nil. Registration errors other than a duplicate registration panic.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Control-plane events handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		roleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_operations_total",
			Help:      "Platform role grants and revocations, by operation and outcome.",
		}, []string{"op", "outcome"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Chat messages relayed between the game and the platform.",
		}, []string{"direction", "outcome"}),
		cleanupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_members_total",
			Help:      "Members processed by bulk playing-role cleanup, by result.",
		}, []string{"result"}),
		playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playing_accounts",
			Help:      "Game accounts currently flagged as playing.",
		}),
	}
	m.events = register(reg, m.events)
	m.roleOps = register(reg, m.roleOps)
	m.relayed = register(reg, m.relayed)
	m.cleanupTotal = register(reg, m.cleanupTotal)
	m.playing = register(reg, m.playing)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Outcome returns the label value for err: "ok" or the error classification.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(bridge.Classify(err))
}

func (m *Metrics) ObserveEvent(kind bridge.EventType, err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind), Outcome(err)).Inc()
}

// ObserveRoleOp counts a grant or revoke. An already-absent revoke counts as
// "ok".
func (m *Metrics) ObserveRoleOp(op string, err error) {
	if m == nil {
		return
	}
	if errors.Is(err, bridge.ErrAlreadyAbsent) {
		err = nil
	}
	m.roleOps.WithLabelValues(op, Outcome(err)).Inc()
}

func (m *Metrics) ObserveRelay(direction, outcome string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) ObserveCleanup(removed, failed, skipped int) {
	if m == nil {
		return
	}
	m.cleanupTotal.WithLabelValues("removed").Add(float64(removed))
	m.cleanupTotal.WithLabelValues("failed").Add(float64(failed))
	m.cleanupTotal.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) SetPlaying(n int) {
	if m == nil {
		return
	}
	m.playing.Set(float64(n))
}
